package views

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"
)

func TestReviewPage(t *testing.T) {
	d := ReviewData{
		SessionID: "3f2b8f0e-4c1d-4b7a-9d7e-2f1a6c5b9e10",
		Evidence: []EvidenceCard{
			{Confidence: 1, Reason: "Browser event: TAB_SWITCH", EventType: "TAB_SWITCH", Timestamp: time.Unix(0, 0)},
			{Confidence: 0.9, Reason: "<script>x</script>", EventType: "GAZE_AVERSION", Timestamp: time.Unix(0, 0), Image: []byte{0xff, 0xd8}},
		},
		ChartOptions: `{"series":[]}`,
		Nonce:        "n0nce",
	}

	var buf bytes.Buffer
	ctx := templ.WithChildren(context.Background(), Review(d))
	if err := Layout("Review", d.Nonce).Render(ctx, &buf); err != nil {
		t.Fatal(err)
	}
	html := buf.String()

	for _, want := range []string{
		"<!DOCTYPE html>",
		"Session " + d.SessionID,
		"2 evidence item(s)",
		`nonce="n0nce"`,
		`setOption({"series":[]})`,
		"data:image/jpeg;base64,/9g=",
		`class="card browser"`,
		"&lt;script&gt;x&lt;/script&gt;",
		"</body></html>",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("page does not contain %q", want)
		}
	}
	if strings.Contains(html, "<script>x</script>") {
		t.Error("reason was not escaped")
	}
}

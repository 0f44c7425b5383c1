// Package views renders the reviewer pages.
package views

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
)

// EvidenceCard is one entry of the evidence gallery.
type EvidenceCard struct {
	Confidence float64
	Reason     string
	EventType  string
	Timestamp  time.Time
	Image      []byte
}

// ReviewData is everything the review page shows.
type ReviewData struct {
	SessionID    string
	Evidence     []EvidenceCard
	ChartOptions string // echarts option JSON
	Nonce        string
}

// Layout wraps a body component in the page shell.
func Layout(title, nonce string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title>`+
			`<script nonce="%s" src="https://cdn.jsdelivr.net/npm/echarts@5/dist/echarts.min.js"></script>`+
			`<style nonce="%s">body{font-family:sans-serif;margin:2rem}.grid{display:flex;flex-wrap:wrap;gap:1rem}`+
			`.card{border:1px solid #ccc;border-radius:6px;padding:.5rem;width:320px}.card img{width:100%%}`+
			`.browser{background:#fff4e5}#timeline{width:100%%;height:320px}</style></head><body>`,
			templ.EscapeString(title), templ.EscapeString(nonce), templ.EscapeString(nonce)); err != nil {
			return err
		}
		if err := templ.GetChildren(ctx).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

// Review is the evidence gallery and event timeline of one session.
func Review(d ReviewData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<h1>Session %s</h1><p>%d evidence item(s)</p>`,
			templ.EscapeString(d.SessionID), len(d.Evidence)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `<div id="timeline"></div>`+
			`<script nonce="%s">echarts.init(document.getElementById("timeline")).setOption(%s);</script>`,
			templ.EscapeString(d.Nonce), d.ChartOptions); err != nil {
			return err
		}

		if _, err := io.WriteString(w, `<div class="grid">`); err != nil {
			return err
		}
		for _, e := range d.Evidence {
			if err := evidenceCard(w, e); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</div>`)
		return err
	})
}

func evidenceCard(w io.Writer, e EvidenceCard) error {
	class := "card"
	if len(e.Image) == 0 {
		class += " browser"
	}
	if _, err := fmt.Fprintf(w, `<div class="%s"><strong>%s</strong> %.2f<br><small>%s</small><p>%s</p>`,
		class,
		templ.EscapeString(e.EventType),
		e.Confidence,
		templ.EscapeString(e.Timestamp.UTC().Format(time.RFC3339)),
		templ.EscapeString(e.Reason)); err != nil {
		return err
	}
	if len(e.Image) > 0 {
		if _, err := fmt.Fprintf(w, `<img alt="evidence" src="data:image/jpeg;base64,%s">`,
			base64.StdEncoding.EncodeToString(e.Image)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, `</div>`)
	return err
}

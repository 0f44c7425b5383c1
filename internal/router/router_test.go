package router

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"proctor-go/internal/config"
	"proctor-go/internal/evidence"
	"proctor-go/internal/models"
	"proctor-go/internal/perception"
	"proctor-go/internal/proctor"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const reviewToken = "let-me-review"

type client struct {
	t       *testing.T
	engine  *gin.Engine
	cookies []*http.Cookie
}

func newClient(t *testing.T) *client {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte(reviewToken), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	conf := &config.Config{
		Server: config.ServerConfig{SessionSecret: "test-secret", StartRatePerMinute: 3},
		Review: config.ReviewConfig{TokenHash: string(hash)},
	}

	ev, err := evidence.NewManager(config.EvidenceConfig{Directory: t.TempDir(), TopK: 10, MinConfidence: 0.8}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	params := func() proctor.Params {
		return proctor.Params{
			Proctoring: config.ProctoringConfig{
				CalibrationFrames: 2,
				BaselineWindow:    30,
				LeftMultiplier:    1.5,
				SmoothingAlpha:    0.8,
				AwayThreshold:     5,
				BufferCapacity:    60,
				EntryWindow:       time.Second,
				EntryFraction:     0.8,
				ExitWindow:        500 * time.Millisecond,
				ExitFraction:      0.6,
				SuspiciousAfter:   5 * time.Second,
				CheatingAfter:     10 * time.Second,
			},
			Objects: config.ObjectsConfig{MinConfidence: 0.5, Dwell: 3 * time.Second, DedupLimit: 100},
			Catalog: models.DefaultObjectCatalog().Names(),
		}
	}
	svc := proctor.NewService(proctor.NewStore(), perception.Null{}, ev, nil, nil, params, zap.NewNop())
	return &client{t: t, engine: Setup(zap.NewNop(), conf, Deps{Service: svc})}
}

func (c *client) do(method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			c.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	w := httptest.NewRecorder()
	c.engine.ServeHTTP(w, req)
	// A newer cookie replaces the stored one with the same name.
	for _, set := range w.Result().Cookies() {
		kept := c.cookies[:0]
		for _, ck := range c.cookies {
			if ck.Name != set.Name {
				kept = append(kept, ck)
			}
		}
		c.cookies = append(kept, set)
	}
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, w.Body.String())
	}
	return out
}

func pngFrame(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func (c *client) start() string {
	c.t.Helper()
	w := c.do(http.MethodPost, "/proctor/start-session", map[string]string{"student_id": "s-1", "quiz_id": "quiz.7"}, nil)
	if w.Code != http.StatusOK {
		c.t.Fatalf("start-session: %d %s", w.Code, w.Body.String())
	}
	return decode(c.t, w)["session_id"].(string)
}

func TestStartSessionValidation(t *testing.T) {
	c := newClient(t)
	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{"},
		{"missing quiz", map[string]string{"student_id": "s-1"}},
		{"bad identifier", map[string]string{"student_id": "../etc", "quiz_id": "q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := c.do(http.MethodPost, "/proctor/start-session", tt.body, nil); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestSessionFlow(t *testing.T) {
	c := newClient(t)
	id := c.start()
	frame := pngFrame(t)

	w := c.do(http.MethodPost, "/proctor/frame", map[string]interface{}{"session_id": id, "frame_base64": frame}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("frame: %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w); got["event"] != "CALIBRATING" || got["reason"] != "Calibrating (1/2)" {
		t.Errorf("first frame = %v", got)
	}

	// The cookie session remembers the id.
	w = c.do(http.MethodPost, "/proctor/frame", map[string]interface{}{"frame_base64": "data:image/png;base64," + frame, "include_annotated": true}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("frame via cookie: %d %s", w.Code, w.Body.String())
	}
	got := decode(t, w)
	if got["event"] != "NORMAL" {
		t.Errorf("second frame = %v", got)
	}
	if s, _ := got["annotated_frame_base64"].(string); s == "" {
		t.Error("annotated frame missing")
	}

	for name, body := range map[string]interface{}{
		"bad base64": map[string]interface{}{"session_id": id, "frame_base64": "%%%"},
		"not image":  map[string]interface{}{"session_id": id, "frame_base64": base64.StdEncoding.EncodeToString([]byte("hello"))},
	} {
		if w := c.do(http.MethodPost, "/proctor/frame", body, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", name, w.Code)
		}
	}
	unknown := map[string]interface{}{"session_id": "3f2b8f0e-4c1d-4b7a-9d7e-2f1a6c5b9e10", "frame_base64": frame}
	if w := c.do(http.MethodPost, "/proctor/frame", unknown, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown session: status %d, want 404", w.Code)
	}

	if w := c.do(http.MethodPost, "/proctor/browser-event", map[string]string{"session_id": id, "event": "COPY_PASTE"}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown browser event: status %d, want 400", w.Code)
	}
	if w := c.do(http.MethodPost, "/proctor/browser-event", map[string]string{"session_id": id, "event": "TAB_SWITCH", "severity": "HIGH"}, nil); w.Code != http.StatusOK {
		t.Errorf("browser event: %d %s", w.Code, w.Body.String())
	}
	if w := c.do(http.MethodPost, "/proctor/heartbeat", map[string]string{"session_id": id}, nil); w.Code != http.StatusOK || decode(t, w)["status"] != "alive" {
		t.Errorf("heartbeat: %d %s", w.Code, w.Body.String())
	}

	w = c.do(http.MethodPost, "/proctor/end-session", map[string]string{"session_id": id}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end-session: %d %s", w.Code, w.Body.String())
	}
	sum := decode(t, w)
	if sum["total_frames"] != 2.0 || sum["total_events"] != 1.0 || sum["subject_id"] != "s-1" {
		t.Errorf("summary = %v", sum)
	}

	if w := c.do(http.MethodPost, "/proctor/end-session", map[string]string{"session_id": id}, nil); w.Code != http.StatusConflict {
		t.Errorf("double end: status %d, want 409", w.Code)
	}
	if w := c.do(http.MethodPost, "/proctor/frame", map[string]interface{}{"session_id": id, "frame_base64": frame}, nil); w.Code != http.StatusConflict {
		t.Errorf("frame after end: status %d, want 409", w.Code)
	}

	// Evidence is reviewer-only.
	path := "/proctor/evidence/" + id
	if w := c.do(http.MethodGet, path, nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", w.Code)
	}
	if w := c.do(http.MethodGet, path, nil, map[string]string{ReviewTokenHeader: "guess"}); w.Code != http.StatusForbidden {
		t.Errorf("wrong token: status %d, want 403", w.Code)
	}
	w = c.do(http.MethodGet, path, nil, map[string]string{ReviewTokenHeader: reviewToken})
	if w.Code != http.StatusOK {
		t.Fatalf("evidence: %d %s", w.Code, w.Body.String())
	}
	ev := decode(t, w)
	if ev["total_evidences"] != 1.0 {
		t.Errorf("evidence = %v", ev)
	}
	items := ev["evidences"].([]interface{})
	if first := items[0].(map[string]interface{}); first["event_type"] != "TAB_SWITCH" || first["confidence"] != 1.0 {
		t.Errorf("first evidence = %v", first)
	}

	w = c.do(http.MethodGet, "/review/"+id+"?token="+reviewToken, nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Event Timeline") {
		t.Errorf("review page: %d", w.Code)
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "nonce-") {
		t.Errorf("CSP header = %q", csp)
	}

	if w := c.do(http.MethodDelete, path, nil, map[string]string{ReviewTokenHeader: reviewToken}); w.Code != http.StatusOK {
		t.Errorf("clear evidence: %d %s", w.Code, w.Body.String())
	}
	unknownPath := "/proctor/evidence/9c1e4a52-7d3b-4f0e-8a6c-1b2d3e4f5a6b"
	if w := c.do(http.MethodDelete, unknownPath, nil, map[string]string{ReviewTokenHeader: reviewToken}); w.Code != http.StatusNotFound {
		t.Errorf("clear unknown session: status %d, want 404", w.Code)
	}
	if w := c.do(http.MethodGet, "/proctor/evidence/not-a-uuid", nil, map[string]string{ReviewTokenHeader: reviewToken}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id: status %d, want 400", w.Code)
	}
}

func TestStartSessionRateLimit(t *testing.T) {
	c := newClient(t)
	for i := 0; i < 3; i++ {
		c.start()
	}
	w := c.do(http.MethodPost, "/proctor/start-session", map[string]string{"student_id": "s-1", "quiz_id": "q"}, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}

func TestHealth(t *testing.T) {
	c := newClient(t)
	c.start()
	w := c.do(http.MethodGet, "/proctor/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}
	got := decode(t, w)
	if got["status"] != "healthy" || got["active_sessions"] != 1.0 {
		t.Errorf("health = %v", got)
	}
	if got["mqtt"] != nil {
		t.Error("mqtt stats reported with publishing disabled")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("secure headers missing")
	}
}

package handlers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/jpeg"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"proctor-go/internal/events"
	"proctor-go/internal/perception"
	"proctor-go/internal/proctor"
	"proctor-go/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionKey is the cookie session key holding the caller's proctoring
// session id.
const SessionKey = "proctorSessionID"

type ProctorHandler struct {
	log     *zap.Logger
	service *proctor.Service
	now     func() time.Time
	seq     atomic.Uint64
}

func NewProctorHandler(log *zap.Logger, service *proctor.Service) *ProctorHandler {
	return &ProctorHandler{log: log, service: service, now: time.Now}
}

type startRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	QuizID    string `json:"quiz_id" binding:"required"`
}

func (h *ProctorHandler) StartSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if !utils.IsValidIdentifier(req.StudentID) || !utils.IsValidIdentifier(req.QuizID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid student or quiz id"})
		return
	}

	info, err := h.service.Start(c.Request.Context(), req.StudentID, req.QuizID, h.now())
	if err != nil {
		h.log.Error("Failed to start session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
		return
	}

	session := sessions.Default(c)
	session.Set(SessionKey, info.SessionID)
	if err := session.Save(); err != nil {
		h.log.Warn("Failed to save session cookie", zap.String("session_id", info.SessionID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": info.SessionID,
		"message":    "Session started. Calibration in progress.",
	})
}

type frameRequest struct {
	SessionID        string `json:"session_id"`
	FrameBase64      string `json:"frame_base64" binding:"required"`
	IncludeAnnotated bool   `json:"include_annotated"`
}

type frameResponse struct {
	Event                string  `json:"event"`
	Confidence           float64 `json:"confidence"`
	Reason               string  `json:"reason"`
	GazeState            string  `json:"gaze_state"`
	AnnotatedFrameBase64 string  `json:"annotated_frame_base64,omitempty"`
}

func (h *ProctorHandler) ProcessFrame(c *gin.Context) {
	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	id := h.sessionID(c, req.SessionID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session id"})
		return
	}

	data, err := decodeBase64Image(req.FrameBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid frame encoding"})
		return
	}
	frame, err := perception.DecodeFrame(h.seq.Add(1), h.now(), data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid frame image"})
		return
	}

	res, err := h.service.ProcessFrame(c.Request.Context(), id, frame, req.IncludeAnnotated)
	if err != nil {
		h.sessionError(c, id, err)
		return
	}

	resp := frameResponse{
		Event:      string(res.Event),
		Confidence: res.Confidence,
		Reason:     res.Reason,
		GazeState:  res.GazeState.String(),
	}
	if req.IncludeAnnotated && res.Annotated != nil {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, res.Annotated, &jpeg.Options{Quality: 80}); err != nil {
			h.log.Warn("Failed to encode annotated frame", zap.String("session_id", id), zap.Error(err))
		} else {
			resp.AnnotatedFrameBase64 = base64.StdEncoding.EncodeToString(buf.Bytes())
		}
	}
	c.JSON(http.StatusOK, resp)
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (h *ProctorHandler) EndSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	id := h.sessionID(c, req.SessionID)
	summary, err := h.service.End(c.Request.Context(), id, h.now())
	if err != nil {
		h.sessionError(c, id, err)
		return
	}

	session := sessions.Default(c)
	if session.Get(SessionKey) == id {
		session.Delete(SessionKey)
		_ = session.Save()
	}
	c.JSON(http.StatusOK, summary)
}

type browserEventRequest struct {
	SessionID string    `json:"session_id"`
	Event     string    `json:"event" binding:"required"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *ProctorHandler) BrowserEvent(c *gin.Context) {
	var req browserEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	typ, err := events.ParseBrowserEventType(req.Event)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	at := req.Timestamp
	if at.IsZero() {
		at = h.now()
	}

	id := h.sessionID(c, req.SessionID)
	if err := h.service.RecordBrowserEvent(c.Request.Context(), id, typ, at); err != nil {
		h.sessionError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded", "event": string(typ)})
}

type heartbeatRequest struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Heartbeat records client liveness. The server clock is authoritative;
// the client timestamp is echoed back.
func (h *ProctorHandler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	id := h.sessionID(c, req.SessionID)
	if err := h.service.Heartbeat(id, h.now()); err != nil {
		h.sessionError(c, id, err)
		return
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = h.now()
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive", "timestamp": ts.UTC()})
}

type evidenceItem struct {
	Confidence  float64   `json:"confidence"`
	Reason      string    `json:"reason"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	ImageBase64 string    `json:"image_base64,omitempty"`
}

func (h *ProctorHandler) Evidence(c *gin.Context) {
	id := c.Param("session_id")
	if !utils.IsValidSessionID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return
	}
	items, err := h.service.Evidence(c.Request.Context(), id)
	if err != nil {
		h.sessionError(c, id, err)
		return
	}

	out := make([]evidenceItem, 0, len(items))
	for _, it := range items {
		e := evidenceItem{
			Confidence: it.Confidence,
			Reason:     it.Reason,
			EventType:  it.EventType,
			Timestamp:  it.Timestamp.UTC(),
		}
		if len(it.Image) > 0 {
			e.ImageBase64 = base64.StdEncoding.EncodeToString(it.Image)
		}
		out = append(out, e)
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":      id,
		"total_evidences": len(out),
		"evidences":       out,
	})
}

func (h *ProctorHandler) ClearEvidence(c *gin.Context) {
	id := c.Param("session_id")
	if !utils.IsValidSessionID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return
	}
	if err := h.service.ClearEvidence(c.Request.Context(), id); err != nil {
		h.sessionError(c, id, err)
		return
	}
	h.log.Info("Evidence cleared", zap.String("session_id", id))
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "session_id": id})
}

// sessionID prefers the id in the request body and falls back to the one
// remembered in the cookie session.
func (h *ProctorHandler) sessionID(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if id, ok := sessions.Default(c).Get(SessionKey).(string); ok {
		return id
	}
	return ""
}

func (h *ProctorHandler) sessionError(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, proctor.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, proctor.ErrSessionEnded):
		c.JSON(http.StatusConflict, gin.H{"error": "Session has ended"})
	default:
		h.log.Error("Session request failed", zap.String("session_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// decodeBase64Image accepts raw base64 or a data URL.
func decodeBase64Image(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}
	return data, nil
}

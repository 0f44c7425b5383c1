package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"proctor-go/internal/models"
	"proctor-go/internal/proctor"
	"proctor-go/internal/utils"
	"proctor-go/internal/views"

	"github.com/a-h/templ"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Timeline returns the persisted events of a session, oldest first.
type Timeline interface {
	SessionTimeline(ctx context.Context, sessionID string) ([]models.ProctorEvent, error)
}

// timelinePoint is one event on the review chart.
type timelinePoint struct {
	At         time.Time
	Kind       string
	Confidence float64
}

type ReviewHandler struct {
	log      *zap.Logger
	service  *proctor.Service
	timeline Timeline
}

// NewReviewHandler builds the review page handler. timeline may be nil, in
// which case the chart is drawn from the retained evidence.
func NewReviewHandler(log *zap.Logger, service *proctor.Service, timeline Timeline) *ReviewHandler {
	return &ReviewHandler{log: log, service: service, timeline: timeline}
}

func (h *ReviewHandler) ShowReview(c *gin.Context) {
	id := c.Param("session_id")
	if !utils.IsValidSessionID(id) {
		c.String(http.StatusBadRequest, "Invalid session id")
		return
	}

	items, err := h.service.Evidence(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, proctor.ErrSessionNotFound) {
			c.String(http.StatusNotFound, "Session not found")
			return
		}
		h.log.Error("Failed to load evidence", zap.String("session_id", id), zap.Error(err))
		c.String(http.StatusInternalServerError, "Failed to load evidence")
		return
	}

	cards := make([]views.EvidenceCard, 0, len(items))
	points := make([]timelinePoint, 0, len(items))
	for _, it := range items {
		cards = append(cards, views.EvidenceCard(it))
		points = append(points, timelinePoint{At: it.Timestamp, Kind: it.EventType, Confidence: it.Confidence})
	}

	if h.timeline != nil {
		rows, err := h.timeline.SessionTimeline(c.Request.Context(), id)
		if err != nil {
			h.log.Warn("Failed to load event timeline, charting evidence only", zap.String("session_id", id), zap.Error(err))
		} else if len(rows) > 0 {
			points = points[:0]
			for _, r := range rows {
				points = append(points, timelinePoint{At: r.OccurredAt, Kind: r.Kind, Confidence: r.Confidence})
			}
		}
	}

	chart := generateTimelineChart(points)
	optionsJSON, err := json.Marshal(chart.JSON())
	if err != nil {
		h.log.Error("Failed to encode chart options", zap.Error(err))
		c.String(http.StatusInternalServerError, "Failed to render chart")
		return
	}

	nonce := c.GetString("csp_nonce")
	component := views.Review(views.ReviewData{
		SessionID:    id,
		Evidence:     cards,
		ChartOptions: string(optionsJSON),
		Nonce:        nonce,
	})

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := views.Layout("Session review", nonce).Render(templ.WithChildren(c.Request.Context(), component), c.Writer); err != nil {
		h.log.Error("Failed to render review page", zap.String("session_id", id), zap.Error(err))
	}
}

// generateTimelineChart plots event confidence over time, one series per
// event kind.
func generateTimelineChart(points []timelinePoint) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Event Timeline",
			Subtitle: "Confidence per event",
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Type: "time",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type: "value",
			Min:  0,
			Max:  1,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	byKind := make(map[string][]opts.ScatterData)
	for _, p := range points {
		byKind[p.Kind] = append(byKind[p.Kind], opts.ScatterData{
			Value: []interface{}{p.At.UTC().Format(time.RFC3339), p.Confidence},
		})
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		scatter.AddSeries(k, byKind[k])
	}
	return scatter
}

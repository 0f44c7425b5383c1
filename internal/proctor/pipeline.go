package proctor

import (
	"context"
	"fmt"
	"image"

	"proctor-go/internal/events"
	"proctor-go/internal/gaze"
	"proctor-go/internal/perception"

	"go.uber.org/zap"
)

// Classification is the verdict for one frame.
type Classification struct {
	Event      Verdict
	Confidence float64
	Reason     string
	GazeState  gaze.State
	Deviation  float64
	Yaw        float64
	Pitch      float64
	Annotated  image.Image
}

type recorded struct {
	ev   events.Event
	path string
}

// frameRun carries the per-frame context through the step functions. It is
// used with the session lock held.
type frameRun struct {
	svc   *Service
	sess  *Session
	frame perception.Frame
	log   *zap.Logger

	ov       overlay
	img      image.Image
	recorded []recorded
}

func (r *frameRun) annotated() image.Image {
	if r.img == nil && r.frame.Image != nil {
		r.img = annotate(r.frame.Image, r.ov)
	}
	return r.img
}

func (r *frameRun) detectObjects(ctx context.Context) []perception.Detection {
	dets, err := r.svc.provider.DetectObjects(ctx, r.frame)
	if err != nil {
		r.log.Warn("Object detection failed, treating frame as empty", zap.Error(err))
		return nil
	}
	return dets
}

func (r *frameRun) detectFace(ctx context.Context) *perception.BBox {
	box, err := r.svc.provider.DetectFace(ctx, r.frame)
	if err != nil {
		r.log.Warn("Face detection failed, treating frame as no face", zap.Error(err))
		return nil
	}
	return box
}

func (r *frameRun) detectLandmarks(ctx context.Context) []perception.Landmark {
	lms, err := r.svc.provider.DetectLandmarks(ctx, r.frame)
	if err != nil {
		r.log.Warn("Landmark detection failed, treating frame as no landmarks", zap.Error(err))
		return nil
	}
	return lms
}

// irisSample returns the normalized iris position, or ok=false when the
// frame has no usable face mesh.
func (r *frameRun) irisSample(ctx context.Context, face *perception.BBox) (h, v float64, ok bool) {
	if face == nil {
		return 0.5, 0.5, false
	}
	return gaze.IrisPosition(r.detectLandmarks(ctx), r.frame.Width, r.frame.Height)
}

// capture offers the annotated frame to the evidence store.
func (r *frameRun) capture(confidence float64, reason string, kind events.Kind) string {
	img := r.annotated()
	if img == nil {
		return ""
	}
	path, ok := r.svc.evidence.Add(r.sess.SessionID, img, confidence, reason, string(kind), r.frame.Timestamp)
	if !ok {
		return ""
	}
	return path
}

func (r *frameRun) record(ev events.Event, path string) {
	r.sess.log = append(r.sess.log, ev)
	r.recorded = append(r.recorded, recorded{ev: ev, path: path})
}

// calibrate is the CALIBRATING step: it feeds raw head and iris samples to
// the calibrators and moves the session to ACTIVE once they complete.
func (r *frameRun) calibrate(ctx context.Context) Classification {
	sess := r.sess
	face := r.detectFace(ctx)
	o, state := gaze.EstimateOrientation(face, r.frame.Width, r.frame.Height)
	h, v, _ := r.irisSample(ctx, face)

	sess.head.AddFrame(o.Yaw, o.Pitch)
	done := sess.iris.AddFrame(h, v)
	r.ov.face = face

	if !done {
		r.ov.verdict = VerdictCalibrating
		return Classification{
			Event:     VerdictCalibrating,
			Reason:    fmt.Sprintf("Calibrating (%d/%d)", sess.iris.Frames(), sess.params.Proctoring.CalibrationFrames),
			GazeState: state,
			Yaw:       o.Yaw,
			Pitch:     o.Pitch,
		}
	}

	sess.phase = Active
	bh, bv := sess.iris.Baseline()
	by, bp := sess.head.Baseline()
	r.log.Info("Calibration complete",
		zap.Float64("iris_h", bh), zap.Float64("iris_v", bv),
		zap.Float64("yaw", by), zap.Float64("pitch", bp))
	r.ov.verdict = VerdictNormal
	return Classification{
		Event:     VerdictNormal,
		Reason:    "Calibration complete",
		GazeState: gaze.Forward,
		Yaw:       o.Yaw,
		Pitch:     o.Pitch,
	}
}

// track is the ACTIVE step. A newly confirmed forbidden object decides the
// frame on its own; otherwise the gaze pipeline runs.
func (r *frameRun) track(ctx context.Context) Classification {
	if res, ok := r.checkObjects(ctx); ok {
		return res
	}
	return r.checkGaze(ctx)
}

func (r *frameRun) checkObjects(ctx context.Context) (Classification, bool) {
	sess := r.sess
	now := r.frame.Timestamp
	obs := sess.objects.Update(now, r.detectObjects(ctx))
	r.ov.objects = obs
	r.ov.dwell = sess.objects.Dwell()

	var hits []events.ForbiddenObject
	for _, o := range obs {
		if o.Emit {
			hits = append(hits, events.ForbiddenObject{
				Object:    o.Object,
				Duration:  o.Elapsed,
				Detection: o.Confidence,
				At:        now,
			})
		}
	}
	if len(hits) == 0 {
		return Classification{}, false
	}

	r.ov.verdict = VerdictCheating
	reason := hits[0].Reason()
	path := r.capture(1.0, reason, events.KindForbiddenObject)
	for i, ev := range hits {
		p := ""
		if i == 0 {
			p = path
		}
		r.record(ev, p)
	}
	r.log.Info("Forbidden object confirmed",
		zap.String("object", hits[0].Object),
		zap.Duration("duration", hits[0].Duration))
	return Classification{
		Event:      VerdictCheating,
		Confidence: 1.0,
		Reason:     reason,
		GazeState:  sess.smoother.State(),
	}, true
}

func (r *frameRun) checkGaze(ctx context.Context) Classification {
	sess := r.sess
	now := r.frame.Timestamp

	face := r.detectFace(ctx)
	r.ov.face = face
	o, _ := gaze.EstimateOrientation(face, r.frame.Width, r.frame.Height)

	dev, label := sess.deviation.Hold()
	if h, v, ok := r.irisSample(ctx, face); ok {
		dh, dv := sess.iris.Delta(h, v)
		dev, label = sess.deviation.Update(gaze.Deviation(dh, dv, sess.params.Proctoring.LeftMultiplier))
	}

	state, entered := sess.smoother.Update(gaze.Frame{Timestamp: now, State: label, Yaw: o.Yaw, Pitch: o.Pitch})
	ep := sess.episode.Update(state, now)
	th := sess.episode.Thresholds

	res := Classification{GazeState: state, Deviation: dev, Yaw: o.Yaw, Pitch: o.Pitch}
	secs := ep.Elapsed.Seconds()
	var severity events.Severity
	switch ep.Tier {
	case gaze.TierLookingAway:
		res.Event = VerdictLookingAway
		res.Reason = fmt.Sprintf("Looking away from screen (%.1fs)", secs)
	case gaze.TierSuspicious:
		res.Event = VerdictSuspicious
		res.Reason = fmt.Sprintf("Gaze away for %.1fs (>%.0fs threshold)", secs, th.SuspiciousAfter.Seconds())
		severity = events.SeveritySuspicious
	case gaze.TierCheating:
		res.Event = VerdictCheating
		res.Reason = fmt.Sprintf("Gaze away for %.1fs (>%.0fs threshold)", secs, th.CheatingAfter.Seconds())
		severity = events.SeverityCheating
	default:
		res.Event = VerdictNormal
		res.Reason = "Looking at screen"
	}
	if ep.Tier != gaze.TierNone {
		res.Confidence = th.Confidence(ep.Elapsed)
	}
	r.ov.verdict = res.Event

	var path string
	if entered {
		path = r.capture(sess.smoother.AwayFraction(now), "Gaze aversion detected", events.KindGazeAversion)
	}
	if severity != "" {
		if p := r.capture(res.Confidence, res.Reason, events.KindGazeAversion); p != "" {
			path = p
		}
	}
	if ep.Emit {
		r.record(events.GazeAversion{
			Level:     severity,
			Duration:  ep.Elapsed,
			Yaw:       o.Yaw,
			Pitch:     o.Pitch,
			Deviation: dev,
			Score:     res.Confidence,
			At:        now,
		}, path)
		r.log.Info("Gaze aversion event",
			zap.String("level", string(severity)),
			zap.Duration("duration", ep.Elapsed))
	}
	return res
}

package perception

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"proctor-go/internal/config"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// maxMessageSize bounds a single worker reply.
const maxMessageSize = 64 << 20

var ErrWorkerClosed = errors.New("perception worker closed")

// Worker talks to an external model process over its stdin/stdout. Each
// message is a 4-byte big-endian length followed by a msgpack body.
// Requests are serialized; the process handles one frame at a time.
type Worker struct {
	log *zap.Logger

	mu     sync.Mutex
	stdin  io.WriteCloser
	stdout *bufio.Reader
	closed bool

	cmd    *exec.Cmd
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type request struct {
	Op        string `msgpack:"op"`
	Seq       uint64 `msgpack:"seq"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	FrameData []byte `msgpack:"frame_data"`
}

type wireDetection struct {
	Class      string    `msgpack:"class"`
	Confidence float64   `msgpack:"confidence"`
	BBox       []float64 `msgpack:"bbox"`
}

type response struct {
	Seq       uint64          `msgpack:"seq"`
	Error     string          `msgpack:"error"`
	Objects   []wireDetection `msgpack:"objects"`
	Face      []float64       `msgpack:"face"`
	Landmarks [][]float64     `msgpack:"landmarks"`
}

// StartWorker spawns the configured worker command.
func StartWorker(ctx context.Context, conf config.PerceptionConfig, log *zap.Logger) (*Worker, error) {
	if conf.Command == "" {
		return nil, fmt.Errorf("perception worker command is empty")
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, conf.Command, conf.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start perception worker: %w", err)
	}

	w := newWorker(stdout, stdin, log)
	w.cmd = cmd
	w.cancel = cancel
	log.Info("Perception worker spawned", zap.String("command", conf.Command), zap.Int("pid", cmd.Process.Pid))

	w.wg.Add(2)
	go w.logStderr(stderr)
	go w.waitProcess(ctx)
	return w, nil
}

func newWorker(r io.Reader, wc io.WriteCloser, log *zap.Logger) *Worker {
	return &Worker{
		log:    log,
		stdin:  wc,
		stdout: bufio.NewReader(r),
	}
}

func (w *Worker) DetectObjects(ctx context.Context, f Frame) ([]Detection, error) {
	resp, err := w.call(ctx, "objects", f)
	if err != nil {
		return nil, err
	}
	out := make([]Detection, 0, len(resp.Objects))
	for _, o := range resp.Objects {
		box, ok := toBox(o.BBox)
		if !ok {
			continue
		}
		out = append(out, Detection{Class: o.Class, Confidence: o.Confidence, Box: box})
	}
	return out, nil
}

func (w *Worker) DetectFace(ctx context.Context, f Frame) (*BBox, error) {
	resp, err := w.call(ctx, "face", f)
	if err != nil {
		return nil, err
	}
	box, ok := toBox(resp.Face)
	if !ok {
		return nil, nil
	}
	return &box, nil
}

func (w *Worker) DetectLandmarks(ctx context.Context, f Frame) ([]Landmark, error) {
	resp, err := w.call(ctx, "landmarks", f)
	if err != nil {
		return nil, err
	}
	if len(resp.Landmarks) == 0 {
		return nil, nil
	}
	out := make([]Landmark, len(resp.Landmarks))
	for i, p := range resp.Landmarks {
		if len(p) < 2 {
			return nil, fmt.Errorf("landmark %d has %d coordinates", i, len(p))
		}
		out[i] = Landmark{X: p[0], Y: p[1]}
		if len(p) > 2 {
			out[i].Z = p[2]
		}
	}
	return out, nil
}

func toBox(v []float64) (BBox, bool) {
	if len(v) != 4 {
		return BBox{}, false
	}
	b := BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
	return b, b.Valid()
}

func (w *Worker) call(ctx context.Context, op string, f Frame) (*response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := msgpack.Marshal(&request{
		Op:        op,
		Seq:       f.Seq,
		Width:     f.Width,
		Height:    f.Height,
		FrameData: f.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack request: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWorkerClosed
	}

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(body)))
	if _, err := w.stdin.Write(prefix); err != nil {
		return nil, w.broken(fmt.Errorf("failed to write length prefix: %w", err))
	}
	if _, err := w.stdin.Write(body); err != nil {
		return nil, w.broken(fmt.Errorf("failed to write msgpack data: %w", err))
	}

	if _, err := io.ReadFull(w.stdout, prefix); err != nil {
		return nil, w.broken(fmt.Errorf("failed to read length prefix: %w", err))
	}
	n := binary.BigEndian.Uint32(prefix)
	if n > maxMessageSize {
		return nil, w.broken(fmt.Errorf("worker reply of %d bytes exceeds limit", n))
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(w.stdout, data); err != nil {
		return nil, w.broken(fmt.Errorf("failed to read msgpack data: %w", err))
	}

	var resp response
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal msgpack reply: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("worker %s: %s", op, resp.Error)
	}
	if resp.Seq != f.Seq {
		return nil, fmt.Errorf("worker replied to frame %d, expected %d", resp.Seq, f.Seq)
	}
	return &resp, nil
}

// broken marks the worker closed after a framing error. The stream position
// is unknown from here on, so no later reply could be trusted. Callers hold
// w.mu.
func (w *Worker) broken(err error) error {
	w.closed = true
	if cerr := w.stdin.Close(); cerr != nil {
		w.log.Debug("Failed to close worker stdin", zap.Error(cerr))
	}
	w.log.Error("Perception worker stream broken, worker disabled", zap.Error(err))
	return err
}

// logStderr forwards worker log lines, mapping their level tags onto zap.
func (w *Worker) logStderr(r io.Reader) {
	defer w.wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			w.log.Error("Perception worker error", zap.String("log", line))
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			w.log.Warn("Perception worker warning", zap.String("log", line))
		default:
			w.log.Debug("Perception worker log", zap.String("log", line))
		}
	}
	if err := scanner.Err(); err != nil {
		w.log.Error("Error reading worker stderr", zap.Error(err))
	}
}

func (w *Worker) waitProcess(ctx context.Context) {
	defer w.wg.Done()

	err := w.cmd.Wait()
	switch {
	case err == nil:
		w.log.Info("Perception worker exited cleanly")
	case ctx.Err() != nil:
		w.log.Debug("Perception worker exited on shutdown")
	default:
		w.log.Error("Perception worker exited unexpectedly", zap.Error(err))
	}

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// Close stops the worker, killing it if it does not exit promptly.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed && w.cmd == nil {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.stdin.Close()
	w.mu.Unlock()

	if w.cmd == nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		w.log.Warn("Perception worker stop timeout, killing process")
		w.cancel()
		<-done
	}
	w.cancel()
	return nil
}

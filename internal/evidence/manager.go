// Package evidence keeps the strongest screenshots of each session on disk.
package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"proctor-go/internal/config"
	"proctor-go/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const metadataFile = "metadata.json"

var ErrInvalidSession = errors.New("invalid session id")

// Evidence is one retained capture. Path is relative to the session directory.
type Evidence struct {
	Confidence float64   `json:"confidence"`
	Path       string    `json:"path"`
	Reason     string    `json:"reason"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
}

// Manager retains at most TopK captures per session, keeping the most
// confident ones. Each session has its own lock; sessions never contend.
type Manager struct {
	dir     string
	topK    int
	minConf float64
	quality int
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionSet
}

type sessionSet struct {
	mu     sync.Mutex
	loaded bool
	items  []Evidence
}

func NewManager(conf config.EvidenceConfig, log *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(conf.Directory, 0755); err != nil {
		return nil, fmt.Errorf("could not create evidence directory: %w", err)
	}
	return &Manager{
		dir:      conf.Directory,
		topK:     conf.TopK,
		minConf:  conf.MinConfidence,
		quality:  90,
		log:      log,
		sessions: make(map[string]*sessionSet),
	}, nil
}

func (m *Manager) set(sessionID string) *sessionSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &sessionSet{}
		m.sessions[sessionID] = s
	}
	return s
}

// lookup returns the cached set of a session, or a fresh uncached one.
func (m *Manager) lookup(sessionID string) (*sessionSet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s, true
	}
	return &sessionSet{}, false
}

// adopt caches s unless another caller cached a set first.
func (m *Manager) adopt(sessionID string, s *sessionSet) {
	m.mu.Lock()
	if _, ok := m.sessions[sessionID]; !ok {
		m.sessions[sessionID] = s
	}
	m.mu.Unlock()
}

func (m *Manager) sessionDir(sessionID string) string {
	return filepath.Join(m.dir, sessionID)
}

// load reads the session metadata from disk once. Callers hold s.mu.
func (m *Manager) load(sessionID string, s *sessionSet) error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(m.sessionDir(sessionID), metadataFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.items = nil
	case err != nil:
		return fmt.Errorf("read evidence metadata: %w", err)
	default:
		if err := json.Unmarshal(data, &s.items); err != nil {
			return fmt.Errorf("decode evidence metadata: %w", err)
		}
	}
	s.loaded = true
	return nil
}

// save writes the metadata through a temporary file so readers never see a
// partial document.
func (m *Manager) save(sessionID string, items []Evidence) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	dir := m.sessionDir(sessionID)
	tmp, err := os.CreateTemp(dir, metadataFile+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, metadataFile))
}

// Add stores a capture if it qualifies and returns its path. Captures below
// the minimum confidence are dropped, and at capacity a capture must be
// strictly more confident than the weakest retained one, which it replaces.
// Write failures are logged and reported as not added.
func (m *Manager) Add(sessionID string, img image.Image, confidence float64, reason, eventType string, at time.Time) (string, bool) {
	if confidence < m.minConf || img == nil {
		return "", false
	}
	if !utils.IsValidSessionID(sessionID) {
		m.log.Warn("Rejected evidence for invalid session id", zap.String("session_id", sessionID))
		return "", false
	}

	s := m.set(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	log := m.log.With(zap.String("session_id", sessionID))
	if err := m.load(sessionID, s); err != nil {
		log.Error("Failed to load evidence metadata", zap.Error(err))
		return "", false
	}

	victim := -1
	if len(s.items) >= m.topK {
		victim = weakest(s.items)
		if confidence <= s.items[victim].Confidence {
			return "", false
		}
	}

	dir := m.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error("Failed to create session evidence directory", zap.Error(err))
		return "", false
	}
	at = at.UTC()
	name := fmt.Sprintf("%s_%s_%06d_%s.jpg",
		strings.ToLower(eventType),
		at.Format("20060102_150405"),
		at.Nanosecond()/1000,
		uuid.NewString()[:8])
	if err := m.writeImage(filepath.Join(dir, name), img); err != nil {
		log.Error("Failed to write evidence image", zap.Error(err))
		return "", false
	}

	next := make([]Evidence, 0, len(s.items)+1)
	var evicted *Evidence
	for i, e := range s.items {
		if i == victim {
			evicted = &s.items[i]
			continue
		}
		next = append(next, e)
	}
	next = append(next, Evidence{
		Confidence: confidence,
		Path:       name,
		Reason:     reason,
		EventType:  eventType,
		Timestamp:  at,
	})

	if err := m.save(sessionID, next); err != nil {
		log.Error("Failed to save evidence metadata", zap.Error(err))
		os.Remove(filepath.Join(dir, name))
		return "", false
	}
	s.items = next

	if evicted != nil {
		if err := os.Remove(filepath.Join(dir, evicted.Path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to delete evicted evidence", zap.String("path", evicted.Path), zap.Error(err))
		}
		log.Debug("Evicted weaker evidence",
			zap.Float64("evicted_confidence", evicted.Confidence),
			zap.Float64("confidence", confidence))
	}
	return filepath.Join(dir, name), true
}

func (m *Manager) writeImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: m.quality}); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// weakest returns the index of the least confident item; ties go to the oldest.
func weakest(items []Evidence) int {
	idx := 0
	for i := 1; i < len(items); i++ {
		if items[i].Confidence < items[idx].Confidence {
			idx = i
		}
	}
	return idx
}

// List returns the retained captures sorted by confidence, highest first.
func (m *Manager) List(sessionID string) ([]Evidence, error) {
	if !utils.IsValidSessionID(sessionID) {
		return nil, ErrInvalidSession
	}
	s, cached := m.lookup(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.load(sessionID, s); err != nil {
		return nil, err
	}
	// Ids without stored captures are not cached, so lookups of unknown
	// sessions leave nothing behind.
	if !cached && len(s.items) > 0 {
		m.adopt(sessionID, s)
	}

	out := make([]Evidence, len(s.items))
	copy(out, s.items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// ReadImage returns the bytes of a retained capture.
func (m *Manager) ReadImage(sessionID string, e Evidence) ([]byte, error) {
	if !utils.IsValidSessionID(sessionID) || filepath.Base(e.Path) != e.Path {
		return nil, ErrInvalidSession
	}
	return os.ReadFile(filepath.Join(m.sessionDir(sessionID), e.Path))
}

// Release drops the cached metadata of a session. The files stay on disk
// and are reloaded on the next access.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Clear deletes every capture and the metadata of a session, then removes
// the session directory if nothing else is left in it.
func (m *Manager) Clear(sessionID string) error {
	if !utils.IsValidSessionID(sessionID) {
		return ErrInvalidSession
	}
	s := m.set(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.load(sessionID, s); err != nil {
		return err
	}
	dir := m.sessionDir(sessionID)
	var errs []error
	for _, e := range s.items {
		if err := os.Remove(filepath.Join(dir, e.Path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(filepath.Join(dir, metadataFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	s.items = nil

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if err := os.Remove(dir); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return errors.Join(errs...)
}

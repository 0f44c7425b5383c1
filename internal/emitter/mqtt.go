// Package emitter publishes session lifecycle notifications and proctoring
// events to an MQTT broker for downstream adjudication.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"proctor-go/internal/config"
	"proctor-go/internal/events"
	"proctor-go/internal/proctor"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// publisher is the subset of mqtt.Client used for publishing.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter is a proctor.Sink that publishes to
// <prefix>/<session_id>/events and <prefix>/<session_id>/session.
type MQTTEmitter struct {
	conf   config.MQTTConfig
	log    *zap.Logger
	client mqtt.Client
	pub    publisher

	mu        sync.RWMutex
	connected bool
	published map[string]uint64
	errors    uint64
}

func NewMQTTEmitter(conf config.MQTTConfig, log *zap.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		conf:      conf,
		log:       log.Named("mqtt"),
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection. The client reconnects on its
// own after a lost connection.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.conf.Broker)
	opts.SetClientID(e.conf.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.log.Info("MQTT connection established", zap.String("broker", e.conf.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.log.Warn("MQTT connection lost, waiting for reconnect", zap.String("broker", e.conf.Broker), zap.Error(err))
	}

	e.client = mqtt.NewClient(opts)
	e.pub = e.client

	e.log.Info("Connecting to MQTT broker", zap.String("broker", e.conf.Broker))
	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.log.Info("MQTT disconnected")
	}
	e.setConnected(false)
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

type sessionMessage struct {
	Status string `json:"status"`
	proctor.Info
	Summary *proctor.Summary `json:"summary,omitempty"`
}

type eventMessage struct {
	SessionID    string `json:"session_id"`
	EvidencePath string `json:"evidence_path,omitempty"`
	events.Record
}

func (e *MQTTEmitter) SessionStarted(_ context.Context, info proctor.Info) error {
	return e.publish(e.topic(info.SessionID, "session"), sessionMessage{Status: "started", Info: info})
}

func (e *MQTTEmitter) SessionEnded(_ context.Context, s proctor.Summary) error {
	info := proctor.Info{
		SessionID:    s.SessionID,
		SubjectID:    s.SubjectID,
		AssessmentID: s.AssessmentID,
		StartTime:    s.StartTime,
	}
	return e.publish(e.topic(s.SessionID, "session"), sessionMessage{Status: "ended", Info: info, Summary: &s})
}

func (e *MQTTEmitter) EventRecorded(_ context.Context, sessionID string, ev events.Event, evidencePath string) error {
	msg := eventMessage{SessionID: sessionID, EvidencePath: evidencePath, Record: events.ToRecord(ev)}
	return e.publish(e.topic(sessionID, "events"), msg)
}

func (e *MQTTEmitter) topic(sessionID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", e.conf.TopicPrefix, sessionID, kind)
}

func (e *MQTTEmitter) publish(topic string, msg interface{}) error {
	if e.pub == nil || !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}

	token := e.pub.Publish(topic, e.conf.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	e.log.Debug("Published", zap.String("topic", topic), zap.Int("size", len(payload)))
	return nil
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// Stats is a snapshot of the emitter counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var total uint64
	for _, n := range e.published {
		total += n
	}
	return Stats{Connected: e.connected, Published: total, Errors: e.errors}
}

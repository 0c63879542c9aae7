package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/hifi-console/internal/config"
	"github.com/e7canasta/hifi-console/internal/hifi"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt not connected")

var (
	newClient      = mqtt.NewClient
	connectTimeout = 5 * time.Second
)

// WireEvent is the published form of an engine event.
type WireEvent struct {
	ID         string `json:"id" msgpack:"id"`
	Session    string `json:"session" msgpack:"session"`
	InstanceID string `json:"instance_id" msgpack:"instance_id"`
	Kind       string `json:"kind" msgpack:"kind"`
	VirtualMS  int64  `json:"virtual_ms" msgpack:"virtual_ms"`
	Actor      string `json:"actor,omitempty" msgpack:"actor,omitempty"`
	Mode       string `json:"mode,omitempty" msgpack:"mode,omitempty"`
	Disc       string `json:"disc,omitempty" msgpack:"disc,omitempty"`
	Code       int    `json:"code,omitempty" msgpack:"code,omitempty"`
	Detail     string `json:"detail,omitempty" msgpack:"detail,omitempty"`
	Timestamp  string `json:"timestamp" msgpack:"timestamp"`
}

// MQTTEmitter publishes engine events to the MQTT broker. Observe never
// blocks: events are queued and published by a background loop, and dropped
// when the queue is full.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for control plane

	encode func(any) ([]byte, error)
	queue  chan hifi.Event
	wg     sync.WaitGroup

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	dropped   uint64
	connected bool
	closed    bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) (*MQTTEmitter, error) {
	encode, err := encoderFor(cfg.MQTT.Encoding)
	if err != nil {
		return nil, err
	}

	buffer := cfg.MQTT.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}

	return &MQTTEmitter{
		cfg:       cfg,
		encode:    encode,
		queue:     make(chan hifi.Event, buffer),
		published: make(map[string]uint64),
	}, nil
}

func encoderFor(encoding string) (func(any) ([]byte, error), error) {
	switch encoding {
	case "", "json":
		return json.Marshal, nil
	case "msgpack":
		return msgpack.Marshal, nil
	}
	return nil, fmt.Errorf("unsupported event encoding %q", encoding)
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	client := newClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		// Stop the background connect retry.
		client.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.UseClient(client)
	return nil
}

// UseClient installs an already connected client.
func (e *MQTTEmitter) UseClient(c mqtt.Client) {
	e.mu.Lock()
	e.Client = c
	e.connected = c != nil && c.IsConnected()
	e.mu.Unlock()
}

// Start runs the publish loop until ctx is done or Disconnect is called.
func (e *MQTTEmitter) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				e.drain()
				return
			case ev, ok := <-e.queue:
				if !ok {
					return
				}
				if err := e.Publish(ev); err != nil {
					slog.Debug("event publish failed", "kind", ev.Kind, "error", err)
				}
			}
		}
	}()
}

// drain publishes whatever is still queued without waiting for more.
func (e *MQTTEmitter) drain() {
	for {
		select {
		case ev, ok := <-e.queue:
			if !ok {
				return
			}
			_ = e.Publish(ev)
		default:
			return
		}
	}
}

// Observe queues an event for publishing. It is a hifi.Observer.
func (e *MQTTEmitter) Observe(ev hifi.Event) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	var full bool
	select {
	case e.queue <- ev:
	default:
		full = true
	}
	e.mu.RUnlock()

	if full {
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		slog.Warn("event queue full, dropping event", "kind", ev.Kind)
	}
}

// Publish publishes one event to <events>/<kind>
func (e *MQTTEmitter) Publish(ev hifi.Event) error {
	client := e.activeClient()
	if client == nil {
		e.countError()
		return ErrNotConnected
	}

	topic := fmt.Sprintf("%s/%s", e.cfg.MQTT.Topics.Events, ev.Kind)

	payload, err := e.encode(e.wire(ev))
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to encode event: %w", err)
	}

	token := client.Publish(topic, e.cfg.MQTT.QoS.Events, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("event published",
		"topic", topic,
		"size", len(payload),
	)

	return nil
}

// PublishHealth publishes a health message
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	client := e.activeClient()
	if client == nil {
		return ErrNotConnected
	}

	token := client.Publish(e.cfg.MQTT.Topics.Health, e.cfg.MQTT.QoS.Health, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}

	return token.Error()
}

func (e *MQTTEmitter) wire(ev hifi.Event) WireEvent {
	w := WireEvent{
		ID:         ev.ID,
		Session:    ev.Session,
		InstanceID: e.cfg.InstanceID,
		Kind:       string(ev.Kind),
		VirtualMS:  ev.At.Milliseconds(),
		Actor:      ev.Actor,
		Code:       ev.Code,
		Detail:     ev.Detail,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if ev.Mode.Valid() {
		w.Mode = ev.Mode.String()
	}
	if ev.Disc.Valid() {
		w.Disc = ev.Disc.String()
	}
	return w
}

// Disconnect stops accepting events, flushes the queue and closes the
// MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.RLock()
	client := e.Client
	e.mu.RUnlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
		Dropped:   e.dropped,
		Queued:    len(e.queue),
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
	Dropped   uint64            `json:"dropped"`
	Queued    int               `json:"queued"`
}

// activeClient returns the client if connected, nil otherwise.
func (e *MQTTEmitter) activeClient() mqtt.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.connected {
		return nil
	}
	return e.Client
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

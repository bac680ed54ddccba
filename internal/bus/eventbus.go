// Package bus runs an embedded NATS server for publishing detection events
// to external consumers.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// DefaultPort is the embedded NATS server port.
const DefaultPort = 12001

// Subjects used on the bus. Detections are published per source.
const (
	SubjectDetectionPrefix = "detections."
	SubjectSourceStarted   = "sources.lifecycle.started"
	SubjectSourceStopped   = "sources.lifecycle.stopped"
	SubjectSourceError     = "sources.lifecycle.error"
	SubjectSystemShutdown  = "system.shutdown"
)

// DetectionSubject returns the subject detections from a source are
// published on.
func DetectionSubject(source string) string {
	return SubjectDetectionPrefix + source
}

// EventBus is an embedded NATS server plus a local client connection.
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.RWMutex
}

// Config configures the event bus.
type Config struct {
	// Host for the NATS server (default: 127.0.0.1).
	Host string
	// Port for the NATS server (default: 12001).
	Port int
}

// New starts an embedded NATS server and connects to it.
func New(cfg Config, logger *slog.Logger) (*EventBus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}

	eb.logger.Info("Event bus started", "url", ns.ClientURL())

	return eb, nil
}

// ClientURL returns the NATS client URL external consumers connect to.
func (eb *EventBus) ClientURL() string {
	return eb.server.ClientURL()
}

// Publish marshals data to JSON and publishes it to a subject.
func (eb *EventBus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject.
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()

	return sub, nil
}

// Unsubscribe removes all subscriptions for a subject.
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()

	if subs, ok := eb.subs[subject]; ok {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(eb.subs, subject)
	}
}

// OnShutdown invokes fn when a shutdown request is published on the bus,
// letting external consumers stop the service remotely.
func (eb *EventBus) OnShutdown(fn func()) error {
	_, err := eb.Subscribe(SubjectSystemShutdown, func(*nats.Msg) {
		eb.logger.Info("Shutdown requested over the bus")
		fn()
	})
	return err
}

// HealthCheck verifies the bus connection is alive.
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}

	_, err := eb.conn.Request("_health", []byte("ping"), 2*time.Second)
	if err == nats.ErrNoResponders {
		// No responders just means no one is listening.
		return nil
	}
	return err
}

// Stop drains the connection and shuts the server down.
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("Event bus stopped")
}

// SourceLifecycleEvent announces a capture source starting or stopping.
type SourceLifecycleEvent struct {
	Source    string    `json:"source"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// PublishSourceStarted announces a source starting.
func (eb *EventBus) PublishSourceStarted(source string) error {
	return eb.Publish(SubjectSourceStarted, SourceLifecycleEvent{
		Source:    source,
		Event:     "started",
		Timestamp: time.Now(),
	})
}

// PublishSourceStopped announces a source stopping.
func (eb *EventBus) PublishSourceStopped(source string) error {
	return eb.Publish(SubjectSourceStopped, SourceLifecycleEvent{
		Source:    source,
		Event:     "stopped",
		Timestamp: time.Now(),
	})
}

// PublishSourceError announces a source failure.
func (eb *EventBus) PublishSourceError(source string, err error) error {
	return eb.Publish(SubjectSourceError, SourceLifecycleEvent{
		Source:    source,
		Event:     "error",
		Timestamp: time.Now(),
		Error:     err.Error(),
	})
}

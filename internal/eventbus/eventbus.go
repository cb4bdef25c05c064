// Package eventbus embeds a NATS server to carry the discovery
// agent's changed_streams notifications to the recording stream
// keeper, and anything else in-process that wants a pub/sub channel
// instead of a direct call.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// DefaultPort is the conventional NATS port; Bus binds an ephemeral
// port instead whenever it is unavailable.
const DefaultPort = 4222

// Bus provides pub/sub messaging over an embedded NATS server.
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subsMu sync.RWMutex
	subs   map[string][]*nats.Subscription
}

// Config configures the embedded NATS server.
type Config struct {
	Host string
	Port int
}

// DefaultConfig returns the conventional embedded-NATS configuration.
func DefaultConfig() Config {
	return Config{Host: "127.0.0.1", Port: DefaultPort}
}

// New starts an embedded NATS server and connects to it.
func New(cfg Config, logger *slog.Logger) (*Bus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 || !portFree(cfg.Host, port) {
		free, err := findFreePort(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate NATS port: %w", err)
		}
		port = free
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   port,
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
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	b := &Bus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}
	b.logger.Info("event bus started", "url", ns.ClientURL())
	return b, nil
}

// Conn returns the underlying NATS connection for direct use.
func (b *Bus) Conn() *nats.Conn { return b.conn }

// ClientURL returns the NATS client URL.
func (b *Bus) ClientURL() string { return b.server.ClientURL() }

// Publish JSON-marshals data and publishes it to subject.
func (b *Bus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe subscribes handler to subject, tracking the subscription
// so Unsubscribe can tear every handler for a subject down at once.
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	b.subsMu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.subsMu.Unlock()
	return sub, nil
}

// QueueSubscribe subscribes handler to subject within a queue group,
// so only one subscriber in the group receives a given message.
func (b *Bus) QueueSubscribe(subject, queue string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return nil, err
	}
	b.subsMu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.subsMu.Unlock()
	return sub, nil
}

// Request sends a JSON-marshaled request and waits for a response.
func (b *Bus) Request(subject string, data interface{}, timeout time.Duration) (*nats.Msg, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	return b.conn.Request(subject, payload, timeout)
}

// Unsubscribe removes every subscription registered for subject.
func (b *Bus) Unsubscribe(subject string) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, sub := range b.subs[subject] {
		_ = sub.Unsubscribe()
	}
	delete(b.subs, subject)
}

// Stop drains the connection and shuts down the embedded server.
func (b *Bus) Stop() {
	_ = b.conn.Drain()
	b.server.Shutdown()
	b.logger.Info("event bus stopped")
}

// HealthCheck verifies the connection is live.
func (b *Bus) HealthCheck(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}
	_, err := b.conn.Request("_health", []byte("ping"), 2*time.Second)
	if err == nats.ErrNoResponders {
		return nil
	}
	return err
}

func portFree(host string, port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

func findFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", host+":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

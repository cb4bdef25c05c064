package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := New(Config{Host: "127.0.0.1"}, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func TestBus_PublishSubscribeRoundTrips(t *testing.T) {
	b := newTestBus(t)

	type payload struct {
		Camera string `json:"camera"`
	}

	received := make(chan payload, 1)
	_, err := b.Subscribe("test.subject", func(msg *nats.Msg) {
		var p payload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Errorf("unmarshal: %v", err)
			return
		}
		received <- p
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Publish("test.subject", payload{Camera: "cam1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case p := <-received:
		if p.Camera != "cam1" {
			t.Fatalf("expected camera cam1, got %q", p.Camera)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscriber")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)

	received := make(chan struct{}, 1)
	_, err := b.Subscribe("test.unsub", func(msg *nats.Msg) {
		received <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.Unsubscribe("test.unsub")

	if err := b.Publish("test.unsub", map[string]string{"x": "y"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-received:
		t.Fatal("expected no delivery after Unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBus_HealthCheck(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestNew_AllocatesFreePortOnCollision(t *testing.T) {
	first, err := New(Config{Host: "127.0.0.1", Port: DefaultPort}, slog.Default())
	if err != nil {
		t.Fatalf("New first bus: %v", err)
	}
	defer first.Stop()
	second, err := New(Config{Host: "127.0.0.1", Port: DefaultPort}, slog.Default())
	if err != nil {
		t.Fatalf("New second bus: %v", err)
	}
	defer second.Stop()

	if first.ClientURL() == second.ClientURL() {
		t.Fatal("expected the second bus to bind a distinct port")
	}
}

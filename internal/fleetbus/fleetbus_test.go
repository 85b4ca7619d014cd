package fleetbus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	nc "github.com/nats-io/nats.go"
)

func TestBusStartStopAndPublish(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "fleetbus-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(tempDir)

	cfg := Config{Port: 24222, JetStream: true, DataDir: filepath.Join(tempDir, "jetstream")}
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	if b.Running() {
		t.Fatal("bus should not be running before Start")
	}

	if err := b.Start(cfg); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	defer b.Shutdown()

	if !b.Running() {
		t.Fatal("bus should be running after Start")
	}

	sub, err := nc.Connect(b.URL())
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()

	msgs := make(chan *nc.Msg, 1)
	subscription, err := sub.ChanSubscribe(SubjectAgentUpdate, msgs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subscription.Unsubscribe()
	sub.Flush()

	b.PublishAgentUpdate("agent-1", "active")

	select {
	case msg := <-msgs:
		if string(msg.Data) == "" {
			t.Fatal("expected non-empty payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published agent update")
	}
}

func TestNilBusPublishIsNoOp(t *testing.T) {
	var b *Bus
	b.PublishAlert("test", "nil bus must not panic")
}

func TestUnstartedBusPublishIsNoOp(t *testing.T) {
	b, err := New(Config{Port: 24223})
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	b.PublishTaskUpdate("t1", "completed")
}

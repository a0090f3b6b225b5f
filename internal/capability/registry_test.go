package capability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/natsserver"
	"github.com/loqalabs/loqa-tts/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func connect(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRegistryTracksLocalAndPeerNodes(t *testing.T) {
	client := connect(t)

	var loaded atomic.Bool
	cfg := config.NodeConfig{ID: "tts-a", Role: "tts", HeartbeatInterval: 50, HeartbeatTimeout: 500}
	caps := []Capability{SynthesisCapability("mock", 24000, 6)}
	reg, err := NewRegistry(context.Background(), cfg, client, caps, loaded.Load, newLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(reg.Close)

	if !reg.Healthy() {
		t.Fatal("local node should be healthy after announce")
	}
	if caps[0].Attributes["subject"] != protocol.SubjectSynthesize {
		t.Fatalf("unexpected capability %+v", caps[0])
	}

	loaded.Store(true)
	waitFor(t, func() bool { return len(reg.Query(ReadyFilter)) == 1 })

	peer, _ := json.Marshal(announceMessage{
		NodeID:       "tts-b",
		Role:         "tts",
		Capabilities: []Capability{{Name: CapabilitySynthesize}},
		Timestamp:    time.Now().UTC(),
	})
	if err := client.Conn().Publish(protocol.SubjectNodeAnnounce, peer); err != nil {
		t.Fatalf("publish announce: %v", err)
	}
	waitFor(t, func() bool { return len(reg.Query(WithCapabilityFilter(CapabilitySynthesize))) == 2 })

	if ready := reg.Query(ReadyFilter); len(ready) != 1 || ready[0].ID != "tts-a" {
		t.Fatalf("peer without heartbeat must not be ready: %+v", ready)
	}
}

func TestRegistryMarksSilentNodesUnhealthy(t *testing.T) {
	client := connect(t)

	cfg := config.NodeConfig{ID: "tts-a", Role: "tts", HeartbeatInterval: 50, HeartbeatTimeout: 200}
	reg, err := NewRegistry(context.Background(), cfg, client, nil, nil, newLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(reg.Close)

	reg.updateNode("tts-old", "tts", []Capability{{Name: CapabilitySynthesize}}, true, time.Now().Add(-time.Minute))
	reg.evaluateHealth()

	for _, n := range reg.Query(nil) {
		if n.ID == "tts-old" && n.Healthy {
			t.Fatal("stale node should be unhealthy")
		}
		if n.ID == "tts-a" && !n.Healthy {
			t.Fatal("local node should stay healthy")
		}
	}
}

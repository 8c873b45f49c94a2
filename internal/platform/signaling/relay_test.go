package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/metrics"
)

func startRelay(t *testing.T) (*Relay, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	relay := NewRelay(zerolog.Nop(), metrics.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return relay, cancel, stopped
}

func recvFrame(t *testing.T, c *Connection) Envelope {
	t.Helper()
	select {
	case frame, ok := <-c.Outbound():
		if !ok {
			t.Fatalf("connection %s closed unexpectedly", c.ID)
		}
		env, err := Decode(frame)
		if err != nil {
			t.Fatalf("undecodable frame: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("connection %s received nothing", c.ID)
	}
	return Envelope{}
}

func waitGauge(t *testing.T, m *metrics.Metrics, name string, want int64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Gauge(name) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("gauge %s: expected %d, got %d", name, want, m.Gauge(name))
}

func TestRelay_JoinRelayAndDisconnect(t *testing.T) {
	relay, _, _ := startRelay(t)
	a := NewConnection("a", "", 8)
	b := NewConnection("b", "", 8)

	if !relay.Register(a) || !relay.Register(b) {
		t.Fatal("register should succeed while running")
	}
	waitGauge(t, relay.Metrics(), metrics.OpenConnections, 2)

	relay.Dispatch(a, Envelope{Type: TypeJoinRoom, RoomID: "room", UserID: "doctor"})
	relay.Dispatch(b, Envelope{Type: TypeJoinRoom, RoomID: "room", UserID: "patient"})

	if recvFrame(t, a).Type != TypeRoomMembers {
		t.Fatal("expected room-members for a")
	}
	if recvFrame(t, b).Type != TypeRoomMembers {
		t.Fatal("expected room-members for b")
	}
	if env := recvFrame(t, a); env.Type != TypeUserJoined || env.UserID != "patient" {
		t.Fatalf("expected user-joined patient, got %+v", env)
	}
	waitGauge(t, relay.Metrics(), metrics.ActiveRooms, 1)

	relay.Dispatch(a, Envelope{Type: TypeOffer, TargetUserID: "patient"})
	if env := recvFrame(t, b); env.Type != TypeOffer || env.UserID != "doctor" {
		t.Fatalf("expected offer from doctor, got %+v", env)
	}

	relay.Unregister(a)
	if env := recvFrame(t, b); env.Type != TypeUserLeft || env.UserID != "doctor" {
		t.Fatalf("expected user-left doctor, got %+v", env)
	}
	if _, ok := <-a.Outbound(); ok {
		t.Fatal("unregistered connection queue should be closed")
	}
	waitGauge(t, relay.Metrics(), metrics.OpenConnections, 1)

	// Releasing twice and routing from a released connection are no-ops.
	relay.Unregister(a)
	relay.Dispatch(a, Envelope{Type: TypeOffer})
	select {
	case frame := <-b.Outbound():
		t.Fatalf("unexpected frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
	if got := relay.Metrics().Get(metrics.ConnectionsClosed); got != 1 {
		t.Fatalf("expected 1 closed connection, got %d", got)
	}
}

func TestRelay_IndependentInstances(t *testing.T) {
	r1, _, _ := startRelay(t)
	r2, _, _ := startRelay(t)

	a := NewConnection("a", "", 8)
	b := NewConnection("b", "", 8)
	r1.Register(a)
	r2.Register(b)
	r1.Dispatch(a, Envelope{Type: TypeJoinRoom, RoomID: "room", UserID: "ua"})
	r2.Dispatch(b, Envelope{Type: TypeJoinRoom, RoomID: "room", UserID: "ub"})

	for _, c := range []*Connection{a, b} {
		env := recvFrame(t, c)
		if env.Type != TypeRoomMembers || string(env.Data) != `{"members":[]}` {
			t.Fatalf("relays must not share rooms, got %+v data=%s", env, env.Data)
		}
	}
}

func TestRelay_ShutdownClosesConnections(t *testing.T) {
	relay, cancel, stopped := startRelay(t)
	a := NewConnection("a", "", 8)
	relay.Register(a)
	relay.Dispatch(a, Envelope{Type: TypeJoinRoom, RoomID: "room", UserID: "ua"})
	recvFrame(t, a)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}

	if _, ok := <-a.Outbound(); ok {
		t.Fatal("connection should be closed on shutdown")
	}
	if relay.Register(NewConnection("late", "", 1)) {
		t.Fatal("register after shutdown should fail")
	}
	relay.Unregister(a)
	relay.Dispatch(a, Envelope{Type: TypeLeaveRoom})
	waitGauge(t, relay.Metrics(), metrics.OpenConnections, 0)
	waitGauge(t, relay.Metrics(), metrics.ActiveRooms, 0)
}

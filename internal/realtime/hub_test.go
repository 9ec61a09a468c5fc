package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventCheckinAccepted, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventCheckinAccepted, EventMemberJoined},
	}}

	checkinEvent := &Event{Type: EventCheckinAccepted}
	joinedEvent := &Event{Type: EventMemberJoined}
	rotatedEvent := &Event{Type: EventSecretRotated}

	if !h.shouldSend(client, checkinEvent) {
		t.Error("Should receive checkin_accepted events")
	}
	if !h.shouldSend(client, joinedEvent) {
		t.Error("Should receive member_joined events")
	}
	if h.shouldSend(client, rotatedEvent) {
		t.Error("Should NOT receive secret_rotated events")
	}
}

func TestShouldSend_MemberFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MemberIDs: []string{"mem_a"},
	}}

	matching := &Event{
		Type: EventCheckinAccepted,
		Data: map[string]interface{}{"memberId": "mem_a", "tier": "gold"},
	}
	notMatching := &Event{
		Type: EventCheckinAccepted,
		Data: map[string]interface{}{"memberId": "mem_b", "tier": "bronze"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on memberId")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated members")
	}
}

func TestShouldSend_TierFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Tiers: []string{"gold"},
	}}

	gold := &Event{
		Type: EventCheckinAccepted,
		Data: map[string]interface{}{"memberId": "mem_a", "tier": "gold"},
	}
	bronze := &Event{
		Type: EventCheckinAccepted,
		Data: map[string]interface{}{"memberId": "mem_b", "tier": "bronze"},
	}

	if !h.shouldSend(client, gold) {
		t.Error("Should receive gold-tier check-ins")
	}
	if h.shouldSend(client, bronze) {
		t.Error("Should NOT receive bronze-tier check-ins")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventCheckinAccepted}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MemberIDs: []string{"mem_a"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: EventSecretRotated,
		Data: "string data not a map",
	}

	// Member filter can't extract an ID from non-map data, so the event is
	// filtered out rather than crashing.
	if h.shouldSend(client, event) {
		t.Error("Non-map data should not match a member filter")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventCheckinAccepted, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventCheckinAccepted,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"memberId": "mem_a", "tier": "silver"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_BroadcastCheckin(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Should not panic
	h.BroadcastCheckin(map[string]interface{}{
		"memberId": "mem_a", "displayName": "Jordan", "tier": "gold",
	})
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants rotations
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventSecretRotated}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a check-in event (should be filtered out)
	h.Broadcast(&Event{Type: EventCheckinAccepted, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive check-in event")
	default:
		// Good - filtered out
	}

	// Send a rotation event (should be received)
	h.Broadcast(&Event{Type: EventSecretRotated, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive rotation event")
	}
}

package telemetry

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	hub := NewHub(8, time.Minute, nil)
	defer hub.Stop()

	e1 := Event{Type: "state", Data: map[string]any{"state": "Verifying"}}
	e2 := Event{Type: "state", Data: map[string]any{"state": "Submitting"}}
	_ = hub.Publish(e1)
	_ = hub.Publish(e2)

	events := hub.buffer.GetEventsAfter(0)
	if len(events) != 2 {
		t.Fatalf("buffered %d events, want 2", len(events))
	}
	if events[1].ID <= events[0].ID {
		t.Errorf("IDs not monotonic: %d then %d", events[0].ID, events[1].ID)
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	buffer := NewEventBuffer(2)
	buffer.AddEvent(Event{ID: 1, Type: "state"})
	buffer.AddEvent(Event{ID: 2, Type: "state"})
	buffer.AddEvent(Event{ID: 3, Type: "state"})

	events := buffer.GetEventsAfter(0)
	if len(events) != 2 {
		t.Fatalf("size = %d, want 2", len(events))
	}
	if events[0].ID != 2 || events[1].ID != 3 {
		t.Errorf("kept IDs %d, %d; want 2, 3", events[0].ID, events[1].ID)
	}
}

func TestGetEventsAfterFiltersByID(t *testing.T) {
	buffer := NewEventBuffer(8)
	for id := int64(1); id <= 5; id++ {
		buffer.AddEvent(Event{ID: id, Type: "state"})
	}

	events := buffer.GetEventsAfter(3)
	if len(events) != 2 {
		t.Fatalf("got %d events after ID 3, want 2", len(events))
	}
	if events[0].ID != 4 {
		t.Errorf("first replayed ID = %d", events[0].ID)
	}
}

func TestSubscribeSendsReadySnapshotAndEvents(t *testing.T) {
	hub := NewHub(8, time.Minute, func() map[string]any {
		return map[string]any{"state": "Idle"}
	})
	defer hub.Stop()

	recorder := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)

	subscribed := make(chan error, 1)
	go func() {
		subscribed <- hub.Subscribe(ctx, recorder, req)
	}()

	// Give the subscriber time to register, then publish and disconnect.
	time.Sleep(200 * time.Millisecond)
	_ = hub.Publish(Event{Type: "card", Data: map[string]any{"hex8": "499602D2"}})
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-subscribed:
		if err != nil {
			t.Fatalf("Subscribe returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}

	body := recorder.Body.String()
	if !strings.Contains(body, "event: ready") {
		t.Errorf("no ready event in stream:\n%s", body)
	}
	if !strings.Contains(body, `"state":"Idle"`) {
		t.Errorf("ready event missing snapshot:\n%s", body)
	}
	if !strings.Contains(body, "event: card") {
		t.Errorf("published event missing:\n%s", body)
	}
	if recorder.Header().Get("Content-Type") != "text/event-stream; charset=utf-8" {
		t.Errorf("content type = %q", recorder.Header().Get("Content-Type"))
	}
}

func TestSubscribeReplaysFromLastEventID(t *testing.T) {
	hub := NewHub(8, time.Minute, nil)
	defer hub.Stop()

	for i := 0; i < 4; i++ {
		_ = hub.Publish(Event{Type: "state", Data: map[string]any{"seq": i}})
	}

	recorder := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Last-Event-ID", "2")

	subscribed := make(chan error, 1)
	go func() {
		subscribed <- hub.Subscribe(ctx, recorder, req)
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-subscribed

	// Events 3 and 4 replayed; 1 and 2 skipped.
	var replayed []string
	scanner := bufio.NewScanner(strings.NewReader(recorder.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			replayed = append(replayed, strings.TrimPrefix(line, "id: "))
		}
	}
	// First ID is the ready event, the rest are the replay.
	if len(replayed) != 3 {
		t.Fatalf("replayed IDs = %v, want ready + 2 events", replayed)
	}
	if replayed[1] != "3" || replayed[2] != "4" {
		t.Errorf("replayed IDs = %v, want 3 and 4", replayed)
	}
}

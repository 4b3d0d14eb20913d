package web

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/maestro/internal/broadcast"
	"github.com/lucasnoah/maestro/internal/pipeline"
)

func newTestServer(t *testing.T) (*Server, *pipeline.Store, *broadcast.Hub) {
	t.Helper()
	store := pipeline.NewStore(t.TempDir())
	hub := broadcast.NewHub()
	return NewServer(store, hub, 0), store, hub
}

func TestStatusEmpty(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var entries []StatusEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %v, want empty", entries)
	}
}

func TestStatusReflectsStore(t *testing.T) {
	s, store, _ := newTestServer(t)

	if _, err := store.Create("demo", "/issues/demo.md", pipeline.StagePlan); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := store.Update("demo", func(ts *pipeline.TaskState) {
		ts.Status = pipeline.StatusFailed
		ts.CurrentStage = pipeline.StageCode
		ts.FailedStage = pipeline.StageCode
		ts.FailReason = "tool failure: stage \"code\" exited 1"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var entries []StatusEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Task != "demo" || e.Status != pipeline.StatusFailed || e.FailedStage != pipeline.StageCode {
		t.Errorf("entry = %+v, want failed demo task", e)
	}
	if !strings.Contains(e.FailReason, "exited 1") {
		t.Errorf("FailReason = %q, want the stored reason", e.FailReason)
	}
}

func TestEventsStream(t *testing.T) {
	s, _, hub := newTestServer(t)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// The subscription happens inside the handler; wait for it to register
	// before publishing.
	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(broadcast.Event{Type: "stage_start", Stage: "plan", Task: "demo", Status: "running"})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") {
		t.Fatalf("line = %q, want SSE data frame", line)
	}

	var ev broadcast.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Type != "stage_start" || ev.Stage != "plan" || ev.Task != "demo" {
		t.Errorf("event = %+v, want the published stage_start", ev)
	}
}

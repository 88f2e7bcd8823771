package server

import "testing"

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := SessionMeta{
		SessionID:   "sess_test_1",
		Status:      StatusQueued,
		Source:      "test",
		CreatorType: "admin",
		SourceChars: 12000,
		CreatedAt:   nowRFC3339(),
	}
	if err := store.CreateSession(meta); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	event, err := store.AppendSessionEvent(meta.SessionID, "queue", "queued", nil)
	if err != nil {
		t.Fatalf("AppendSessionEvent error: %v", err)
	}
	if event.Seq != 1 {
		t.Fatalf("expected first seq=1, got %d", event.Seq)
	}
	updated, err := store.UpdateSession(meta.SessionID, func(item *SessionMeta) {
		item.Status = StatusRunning
	})
	if err != nil {
		t.Fatalf("UpdateSession error: %v", err)
	}
	if updated.Status != StatusRunning {
		t.Fatalf("expected status running, got %s", updated.Status)
	}
}

func TestMemoryStoreEventCursor(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	if err := store.CreateSession(SessionMeta{
		SessionID:   "sess_cursor",
		Status:      StatusQueued,
		Source:      "test",
		CreatorType: "admin",
		CreatedAt:   nowRFC3339(),
	}); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.AppendSessionEvent("sess_cursor", "trial", "trial recorded", nil); err != nil {
			t.Fatalf("AppendSessionEvent error: %v", err)
		}
	}
	events := store.ListSessionEvents("sess_cursor", 1)
	if len(events) != 2 {
		t.Fatalf("expected 2 events after seq 1, got %d", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %d, %d", events[0].Seq, events[1].Seq)
	}
}

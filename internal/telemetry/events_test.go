package telemetry

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	if err := s.Record(0, "", EventRunStarted, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(1, "t1", EventTaskSelected, map[string]string{"title": "first task"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(1, "t1", EventTaskDone, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventTaskDone {
		t.Errorf("newest event = %s, want task_done", events[0].Type)
	}
	if events[1].Detail["title"] != "first task" {
		t.Errorf("detail = %v", events[1].Detail)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestByIteration(t *testing.T) {
	s := openTestStore(t)

	for iter := 1; iter <= 3; iter++ {
		if err := s.Record(iter, "t1", EventTaskSelected, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Record(2, "t1", EventValidationFailed, map[string]string{"detail": "tests failed"}); err != nil {
		t.Fatal(err)
	}

	events, err := s.ByIteration(2)
	if err != nil {
		t.Fatalf("ByIteration: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventTaskSelected || events[1].Type != EventValidationFailed {
		t.Errorf("order: %s, %s", events[0].Type, events[1].Type)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "telemetry.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Record(0, "", EventRunStarted, nil); err != nil {
		t.Errorf("Record: %v", err)
	}
}

package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(s *Store, id, from, to, taskID, text string, at time.Time) {
	s.Record(&bus.Message{
		ID: id, From: from, To: to, TaskID: taskID,
		Payload:   bus.Payload{Text: text},
		Type:      bus.TypeGeneral,
		CreatedAt: at,
		DeliverAt: at,
	})
}

func TestRecordAndListByAgent(t *testing.T) {
	s := openTest(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	record(s, "m1", "user", "root", "", "first", base)
	record(s, "m2", "root", "a1", "t1", "second", base.Add(time.Second))
	record(s, "m3", "a1", "root", "t1", "third", base.Add(2*time.Second))

	msgs, err := s.ListByAgent("root", 10)
	if err != nil {
		t.Fatalf("ListByAgent: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[2].ID != "m3" {
		t.Errorf("order = %s..%s, want m1..m3", msgs[0].ID, msgs[2].ID)
	}
	if msgs[1].Payload.Text != "second" {
		t.Errorf("payload = %+v", msgs[1].Payload)
	}

	only, err := s.ListByAgent("a1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(only) != 2 {
		t.Errorf("a1 messages = %d, want 2", len(only))
	}
}

func TestListByAgentLimitKeepsNewest(t *testing.T) {
	s := openTest(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		record(s, string(rune('a'+i)), "user", "root", "", "msg", base.Add(time.Duration(i)*time.Second))
	}
	msgs, err := s.ListByAgent("root", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "d" || msgs[1].ID != "e" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestListByTask(t *testing.T) {
	s := openTest(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	record(s, "m1", "root", "a1", "t1", "x", base)
	record(s, "m2", "a1", "a2", "t2", "y", base.Add(time.Second))
	record(s, "m3", "a2", "a1", "t1", "z", base.Add(2*time.Second))

	msgs, err := s.ListByTask("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m3" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestDuplicateRecordIgnored(t *testing.T) {
	s := openTest(t)
	now := time.Now().UTC()
	record(s, "m1", "user", "root", "", "x", now)
	record(s, "m1", "user", "root", "", "x", now)
	n, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d", n)
	}
}

func TestArchiveAsBusRecorder(t *testing.T) {
	s := openTest(t)
	b := bus.New(s, nil)
	b.RegisterRecipient("root")
	id, err := b.Send(bus.SendRequest{From: "user", To: "root", Payload: bus.Payload{Text: "hello"}})
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := s.ListByAgent("root", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != id {
		t.Errorf("archived = %+v", msgs)
	}
}

package bus

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

func newTestBus() (*Bus, *time.Time) {
	b := New(nil, nil)
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestFIFOOrdering(t *testing.T) {
	b, _ := newTestBus()
	b.RegisterRecipient("a1")

	id1, err := b.Send(SendRequest{From: "root", To: "a1", Payload: Payload{Text: "first"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	id2, _ := b.Send(SendRequest{From: "root", To: "a1", Payload: Payload{Text: "second"}})

	m1 := b.ReceiveNext("a1")
	m2 := b.ReceiveNext("a1")
	if m1 == nil || m2 == nil {
		t.Fatal("expected two messages")
	}
	if m1.ID != id1 || m2.ID != id2 {
		t.Errorf("order = %s,%s want %s,%s", m1.ID, m2.ID, id1, id2)
	}
	if b.ReceiveNext("a1") != nil {
		t.Error("queue should be drained")
	}
}

func TestDelayedHeadBlocksQueue(t *testing.T) {
	b, now := newTestBus()
	b.RegisterRecipient("a1")

	future := now.Add(time.Minute)
	b.Send(SendRequest{From: "root", To: "a1", Payload: Payload{Text: "later"}, DeliverAt: future})
	b.Send(SendRequest{From: "root", To: "a1", Payload: Payload{Text: "now"}})

	// Delayed head hides the whole queue.
	if m := b.ReceiveNext("a1"); m != nil {
		t.Fatalf("got %q before deliverAt", m.Payload.Text)
	}
	if depth := b.PeekQueueDepth("a1"); depth != 2 {
		t.Errorf("depth = %d, want 2", depth)
	}

	*now = now.Add(2 * time.Minute)
	m := b.ReceiveNext("a1")
	if m == nil || m.Payload.Text != "later" {
		t.Fatalf("head = %v, want delayed message first", m)
	}
	if m := b.ReceiveNext("a1"); m == nil || m.Payload.Text != "now" {
		t.Fatalf("second = %v", m)
	}
}

func TestDeliverAtNeverBeforeCreatedAt(t *testing.T) {
	b, now := newTestBus()
	b.RegisterRecipient("a1")
	b.Send(SendRequest{From: "root", To: "a1", Payload: Payload{Text: "x"}, DeliverAt: now.Add(-time.Hour)})
	m := b.ReceiveNext("a1")
	if m == nil {
		t.Fatal("message should be deliverable")
	}
	if m.DeliverAt.Before(m.CreatedAt) {
		t.Errorf("deliverAt %v < createdAt %v", m.DeliverAt, m.CreatedAt)
	}
}

func TestUnknownRecipient(t *testing.T) {
	b, _ := newTestBus()
	_, err := b.Send(SendRequest{From: "root", To: "ghost", Payload: Payload{Text: "x"}})
	if !fault.Is(err, fault.UnknownRecipient) {
		t.Errorf("err = %v, want unknown_recipient", err)
	}
}

func TestUserSelfLoopRejected(t *testing.T) {
	b, _ := newTestBus()
	b.RegisterRecipient(UserID)
	_, err := b.Send(SendRequest{From: UserID, To: UserID, Payload: Payload{Text: "x"}})
	if !fault.Is(err, fault.InvalidRoute) {
		t.Errorf("err = %v, want invalid_route", err)
	}
	if b.PeekQueueDepth(UserID) != 0 {
		t.Error("user self-loop landed on the queue")
	}
}

func TestAbortPending(t *testing.T) {
	b, _ := newTestBus()
	b.RegisterRecipient("a1")
	b.Send(SendRequest{From: "root", To: "a1", Payload: Payload{Text: "1"}})
	b.Send(SendRequest{From: "root", To: "a1", Payload: Payload{Text: "2"}})

	if n := b.AbortPending("a1"); n != 2 {
		t.Errorf("dropped = %d, want 2", n)
	}
	if b.ReceiveNext("a1") != nil {
		t.Error("queue should be empty after abort")
	}
	// Still registered: new sends succeed.
	if _, err := b.Send(SendRequest{From: "root", To: "a1", Payload: Payload{Text: "3"}}); err != nil {
		t.Errorf("Send after abort: %v", err)
	}
}

func TestUnregisterDropsQueue(t *testing.T) {
	b, _ := newTestBus()
	b.RegisterRecipient("a1")
	b.Send(SendRequest{From: "root", To: "a1", Payload: Payload{Text: "1"}})
	b.UnregisterRecipient("a1")
	if _, err := b.Send(SendRequest{From: "root", To: "a1", Payload: Payload{Text: "2"}}); !fault.Is(err, fault.UnknownRecipient) {
		t.Errorf("err = %v, want unknown_recipient", err)
	}
}

func TestTypedPayloadValidation(t *testing.T) {
	b, _ := newTestBus()
	b.RegisterRecipient("a1")

	if _, err := b.Send(SendRequest{From: "root", To: "a1", Type: TypeStatusReport, Payload: Payload{}}); !fault.Is(err, fault.MissingParameter) {
		t.Errorf("empty status_report err = %v", err)
	}
	if _, err := b.Send(SendRequest{From: "root", To: "a1", Type: TypeStatusReport, Payload: Payload{Text: "done"}}); err != nil {
		t.Errorf("valid status_report err = %v", err)
	}
	if _, err := b.Send(SendRequest{From: "root", To: "a1", Type: "bogus", Payload: Payload{Text: "x"}}); err == nil {
		t.Error("unknown type accepted")
	}
}

func TestValidateQuickReplies(t *testing.T) {
	tests := []struct {
		name string
		in   any
		code string
		want int
	}{
		{"nil", nil, "", 0},
		{"two strings", []any{"yes", "no"}, "", 2},
		{"typed slice", []string{"a"}, "", 1},
		{"eleven", []any{"a", "a", "a", "a", "a", "a", "a", "a", "a", "a", "a"}, fault.QuickRepliesTooMany, 0},
		{"not array", "yes", fault.QuickRepliesInvalid, 0},
		{"non-string element", []any{"a", 3}, fault.QuickRepliesInvalid, 0},
		{"empty string element", []any{"a", ""}, fault.QuickRepliesEmpty, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateQuickReplies(tt.in)
			if tt.code == "" {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
				if len(got) != tt.want {
					t.Errorf("len = %d, want %d", len(got), tt.want)
				}
				return
			}
			if !fault.Is(err, tt.code) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
}

// Property: FIFO holds for any interleaving of sends across recipients,
// and no queue ever contains a user→user message.
func TestBusProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("per-recipient FIFO", prop.ForAll(
		func(texts []string) bool {
			b, _ := newTestBus()
			b.RegisterRecipient("r")
			var ids []string
			for _, txt := range texts {
				id, err := b.Send(SendRequest{From: "root", To: "r", Payload: Payload{Text: txt}})
				if err != nil {
					return false
				}
				ids = append(ids, id)
			}
			for _, want := range ids {
				m := b.ReceiveNext("r")
				if m == nil || m.ID != want {
					return false
				}
			}
			return b.ReceiveNext("r") == nil
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("no user self-loop ever enqueued", prop.ForAll(
		func(text string) bool {
			b, _ := newTestBus()
			b.RegisterRecipient(UserID)
			_, err := b.Send(SendRequest{From: UserID, To: UserID, Payload: Payload{Text: text}})
			return fault.Is(err, fault.InvalidRoute) && b.PeekQueueDepth(UserID) == 0
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

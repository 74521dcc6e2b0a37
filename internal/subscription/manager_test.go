package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerfabric/sequencer/internal/ack"
	"github.com/ledgerfabric/sequencer/internal/model"
	"github.com/ledgerfabric/sequencer/internal/signaller"
	"github.com/ledgerfabric/sequencer/internal/store"
)

func TestStreamDeliversAddressedEventsOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	st := store.NewMemStore()
	st.SaveEvents(ctx, []model.Event{
		{Counter: 0, Sender: "alice", Recipients: []model.Member{"carol"}},
		{Counter: 1, Sender: "alice", Recipients: []model.Member{"bob"}},
	})

	sig := signaller.New()
	acks := ack.New()
	m := New("bob", 2, st, sig, acks, 10*time.Millisecond)

	delivered := make(chan model.Event, 2)
	go m.Stream(ctx, 0, func(e model.Event) error {
		delivered <- e
		return nil
	})

	select {
	case e := <-delivered:
		if e.Counter != 1 {
			t.Fatalf("expected only event addressed to bob (counter 1), got %d", e.Counter)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestStreamWakesOnNotify(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st := store.NewMemStore()
	sig := signaller.New()
	acks := ack.New()
	m := New("bob", 2, st, sig, acks, time.Hour)

	delivered := make(chan model.Event, 1)
	go m.Stream(ctx, 0, func(e model.Event) error {
		delivered <- e
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	st.SaveEvents(ctx, []model.Event{{Counter: 0, Sender: "bob"}})
	sig.Notify()

	select {
	case e := <-delivered:
		if e.Counter != 0 {
			t.Fatalf("expected counter 0, got %d", e.Counter)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for wake-up delivery")
	}
}

func TestAcknowledgeUpdatesTrackerAndStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	sig := signaller.New()
	acks := ack.New()
	m := New("bob", 2, st, sig, acks, time.Second)

	if err := m.Acknowledge(ctx, 5); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if acks.Progress(2) != 5 {
		t.Fatalf("expected tracker progress 5, got %d", acks.Progress(2))
	}
	if st.Acked(2) != 5 {
		t.Fatalf("expected store acked 5, got %d", st.Acked(2))
	}
}

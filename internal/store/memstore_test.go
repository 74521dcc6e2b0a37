package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ledgerfabric/sequencer/internal/errs"
	"github.com/ledgerfabric/sequencer/internal/model"
)

func TestSaveEventsRejectsCounterGap(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if err := s.SaveEvents(ctx, []model.Event{{Counter: 0}}); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}
	err := s.SaveEvents(ctx, []model.Event{{Counter: 2}})
	if !errors.Is(err, errs.ErrCounterConflict) {
		t.Fatalf("expected ErrCounterConflict, got %v", err)
	}
}

func TestReadEventsReturnsOrderedTail(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	if err := s.SaveEvents(ctx, []model.Event{{Counter: 0}, {Counter: 1}, {Counter: 2}}); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}

	got, err := s.ReadEvents(ctx, 1, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 2 || got[0].Counter != 1 || got[1].Counter != 2 {
		t.Fatalf("unexpected tail: %+v", got)
	}
}

func TestReadEventsRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.SaveEvents(ctx, []model.Event{{Counter: 0}, {Counter: 1}, {Counter: 2}})

	got, err := s.ReadEvents(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 2 || got[1].Counter != 1 {
		t.Fatalf("unexpected limited tail: %+v", got)
	}
}

func TestSaveWatermarkRejectsRegression(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()

	if err := s.SaveWatermark(ctx, model.Watermark{InstanceIndex: 1, Timestamp: now}); err != nil {
		t.Fatalf("SaveWatermark: %v", err)
	}
	err := s.SaveWatermark(ctx, model.Watermark{InstanceIndex: 1, Timestamp: now.Add(-time.Second)})
	if !errors.Is(err, errs.ErrWatermarkRegression) {
		t.Fatalf("expected ErrWatermarkRegression, got %v", err)
	}
}

func TestFetchWatermarkNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	if _, err := s.FetchWatermark(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAcknowledgeIsMonotone(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	if err := s.Acknowledge(ctx, 1, 10); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if err := s.Acknowledge(ctx, 1, 5); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if got := s.Acked(1); got != 10 {
		t.Fatalf("expected acknowledgement to stay at 10, got %d", got)
	}
}

func TestOperationsFailAfterClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Close()
	if err := s.SaveEvents(ctx, []model.Event{{Counter: 0}}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

package filestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerfabric/sequencer/internal/model"
)

func TestSaveAndReadEventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	events := []model.Event{
		{Counter: 0, Timestamp: time.Now().UTC(), Kind: model.EventDeliver, MessageID: "m1", Sender: "alice", Recipients: []model.Member{"bob"}, PayloadRef: 1},
		{Counter: 1, Timestamp: time.Now().UTC(), Kind: model.EventDeliverError, MessageID: "m2", Sender: "alice", Reason: "bad request"},
	}
	if err := fs.SaveEvents(ctx, events); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ReadEvents(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events after reopen, got %d", len(got))
	}
	if got[0].MessageID != "m1" || got[1].Reason != "bad request" {
		t.Fatalf("unexpected rehydrated events: %+v", got)
	}
}

func TestSavePayloadsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := model.Payload{ID: 42, Bytes: []byte("hello ledger")}
	if err := fs.SavePayloads(ctx, []model.Payload{payload}); err != nil {
		t.Fatalf("SavePayloads: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	reopened.mu.Lock()
	got, ok := reopened.payloads[42]
	reopened.mu.Unlock()
	if !ok || string(got.Bytes) != "hello ledger" {
		t.Fatalf("expected payload to survive reopen, got %+v ok=%v", got, ok)
	}
}

func TestWatermarkPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	wm := model.Watermark{InstanceIndex: 1, Timestamp: time.Now().UTC(), Online: true}
	if err := fs.SaveWatermark(ctx, wm); err != nil {
		t.Fatalf("SaveWatermark: %v", err)
	}
	fs.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.FetchWatermark(ctx, 1)
	if err != nil {
		t.Fatalf("FetchWatermark: %v", err)
	}
	if !got.Timestamp.Equal(wm.Timestamp) || !got.Online {
		t.Fatalf("unexpected rehydrated watermark: %+v", got)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	fs, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs.Close()
}

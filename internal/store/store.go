// Package store defines the sequencer's durable log abstraction and the
// operations the write path needs from it: payload and event persistence,
// watermark tracking, ordered replay and per-member acknowledgement.
package store

import (
	"context"
	"errors"

	"github.com/ledgerfabric/sequencer/internal/model"
)

// ErrNotFound is returned when a lookup addresses a payload, event or
// watermark that does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrClosed is returned by any operation against a store that has
// already been closed.
var ErrClosed = errors.New("store: closed")

// Store is the durable log a sequencer instance writes through. All
// methods must be safe for concurrent use; SaveEvents is the single
// point of serialization the write path relies on for strict ordering.
type Store interface {
	// RegisterMember durably records a member identity, idempotently.
	RegisterMember(ctx context.Context, identity model.Member, id model.MemberID) error

	// SavePayloads durably appends a batch of payloads, returning once
	// every payload in the batch is safely stored.
	SavePayloads(ctx context.Context, payloads []model.Payload) error

	// SaveEvents durably appends a batch of events in counter order.
	// Implementations must reject a batch whose first counter does not
	// immediately follow the last event already stored.
	SaveEvents(ctx context.Context, events []model.Event) error

	// SaveWatermark durably records instance's current watermark. The
	// timestamp must be monotonically non-decreasing per instance.
	SaveWatermark(ctx context.Context, wm model.Watermark) error

	// FetchWatermark returns the last watermark saved for instanceIndex.
	// ErrNotFound is returned if the instance has never published one.
	FetchWatermark(ctx context.Context, instanceIndex int) (model.Watermark, error)

	// ReadEvents returns events with counter >= from, in counter order,
	// up to limit events (limit <= 0 means unbounded). Counters start at
	// 0, so from=0 reads the entire log.
	ReadEvents(ctx context.Context, from uint64, limit int) ([]model.Event, error)

	// Acknowledge durably records that member has processed every event
	// up to and including through.
	Acknowledge(ctx context.Context, member model.MemberID, through uint64) error

	// Close releases any resources held by the store.
	Close() error
}

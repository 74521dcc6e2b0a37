// Package subscription implements subscriber-facing read access to the
// sequencer's log: wake up on signaller notification, re-read the
// authoritative store from a checkpoint, and fall back to a periodic
// poll so a missed or coalesced wake-up never stalls a subscriber
// indefinitely.
package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerfabric/sequencer/internal/ack"
	"github.com/ledgerfabric/sequencer/internal/model"
	"github.com/ledgerfabric/sequencer/internal/signaller"
	"github.com/ledgerfabric/sequencer/internal/store"
)

// Manager serves ordered event reads to a single subscriber, advancing
// its checkpoint as events are delivered and acknowledged.
type Manager struct {
	identity           model.Member
	memberID           model.MemberID
	st                 store.Store
	signal             *signaller.EventSignaller
	acks               *ack.Tracker
	checkpointInterval time.Duration
}

// New constructs a subscription Manager for the member identified by
// both its durable handle (memberID, used for acknowledgement tracking)
// and its identity (used to match event recipients).
func New(identity model.Member, memberID model.MemberID, st store.Store, signal *signaller.EventSignaller, acks *ack.Tracker, checkpointInterval time.Duration) *Manager {
	if checkpointInterval <= 0 {
		checkpointInterval = 5 * time.Second
	}
	return &Manager{identity: identity, memberID: memberID, st: st, signal: signal, acks: acks, checkpointInterval: checkpointInterval}
}

// Stream delivers events addressed to the subscriber's identity, in
// counter order starting at and including from, until ctx is
// cancelled. It never blocks waiting on the signaller alone: a
// checkpoint ticker guarantees forward progress even if a wake-up is
// lost.
func (m *Manager) Stream(ctx context.Context, from uint64, deliver func(model.Event) error) error {
	subID := fmt.Sprintf("member-%d", m.memberID)
	wake := m.signal.Subscribe(subID)
	defer m.signal.Unsubscribe(subID)

	ticker := time.NewTicker(m.checkpointInterval)
	defer ticker.Stop()

	cursor := from
	for {
		events, err := m.st.ReadEvents(ctx, cursor, 0)
		if err != nil {
			return err
		}
		for _, e := range events {
			cursor = e.Counter + 1
			if !addressedTo(e, m.identity) {
				continue
			}
			if err := deliver(e); err != nil {
				return err
			}
			m.acks.Advance(uint64(m.memberID), e.Counter)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}

// Acknowledge records that the subscriber has durably processed every
// event up to and including through, both in the local tracker and the
// authoritative store.
func (m *Manager) Acknowledge(ctx context.Context, through uint64) error {
	m.acks.Advance(uint64(m.memberID), through)
	return m.st.Acknowledge(ctx, m.memberID, through)
}

// addressedTo reports whether e is visible to identity: events naming
// identity as sender or recipient (time-proof witnesses and rejections
// reach their sender this way), and events carrying neither a sender nor
// recipients, are deliverable.
func addressedTo(e model.Event, identity model.Member) bool {
	if e.Sender == identity {
		return true
	}
	if e.Sender == "" && len(e.Recipients) == 0 {
		return true
	}
	for _, r := range e.Recipients {
		if r == identity {
			return true
		}
	}
	return false
}

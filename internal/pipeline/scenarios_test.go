package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ledgerfabric/sequencer/internal/ack"
	"github.com/ledgerfabric/sequencer/internal/member"
	"github.com/ledgerfabric/sequencer/internal/model"
	"github.com/ledgerfabric/sequencer/internal/signaller"
	"github.com/ledgerfabric/sequencer/internal/store"
	"github.com/ledgerfabric/sequencer/internal/validator"
)

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu      sync.Mutex
	t       time.Time
	pending time.Duration
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

// Now returns the current fake time. An advance armed by
// AdvanceAfterNextRead takes effect once this read has returned.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.pending)
	c.pending = 0
	return now
}

// AdvanceAfterNextRead arms an advance of d that applies after the next
// Now call, so that read still observes the current time.
func (c *fakeClock) AdvanceAfterNextRead(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = d
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// advancingStore arms a fake-clock advance once a payload batch lands
// durably: the pipeline's next clock read stamps the payload's persist
// time unchanged, and the read after it (timestamp assignment) sees the
// advanced time, simulating a stall between payload persist and
// timestamp assignment.
type advancingStore struct {
	store.Store
	clock   *fakeClock
	advance time.Duration
}

func (s *advancingStore) SavePayloads(ctx context.Context, payloads []model.Payload) error {
	if err := s.Store.SavePayloads(ctx, payloads); err != nil {
		return err
	}
	s.clock.AdvanceAfterNextRead(s.advance)
	return nil
}

func eventsFor(t *testing.T, st store.Store, sender model.Member) []model.Event {
	t.Helper()
	all, err := st.ReadEvents(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	var out []model.Event
	for _, e := range all {
		if e.Sender == sender {
			out = append(out, e)
		}
	}
	return out
}

// S1: a submission whose max-sequencing-time has already passed by the
// time the sequencer assigns it a timestamp is silently dropped; a
// later, still-valid submission is delivered normally.
func TestScenarioMaxSequencingTimeDrop(t *testing.T) {
	clock := newFakeClock(epoch.Add(10 * time.Second))
	st := store.NewMemStore()
	members := member.NewRegistry()
	members.Register("alice")
	v := validator.New(validator.Config{}, members)
	sig := signaller.New()
	acks := ack.New()
	p := New(Config{InstanceIndex: 1, TotalNodeCount: 2}, st, v, members, sig, acks, WithClock(clock.Now))
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	reqA := model.SubmissionRequest{Sender: "alice", MessageID: "1", MaxSequencingTime: epoch.Add(5 * time.Second)}
	if _, err := p.Submit(ctx, reqA); err == nil {
		t.Fatal("expected submission A to be rejected")
	}

	reqB := model.SubmissionRequest{Sender: "alice", MessageID: "2", MaxSequencingTime: epoch.Add(15 * time.Second)}
	eventB, err := p.Submit(ctx, reqB)
	if err != nil {
		t.Fatalf("Submit B: %v", err)
	}
	if eventB.Kind != model.EventDeliver || eventB.MessageID != "2" {
		t.Fatalf("expected Deliver for B, got %+v", eventB)
	}

	events := eventsFor(t, st, "alice")
	if len(events) != 1 {
		t.Fatalf("expected exactly one event for alice, got %d: %+v", len(events), events)
	}
	if events[0].MessageID != "2" {
		t.Fatalf("expected only message 2 present, got %+v", events[0])
	}
}

// S2: a signing-key timestamp equal to the assigned event timestamp is
// accepted (inclusive boundary); one strictly after it is rejected.
func TestScenarioSigningTimestampMargin(t *testing.T) {
	clock := newFakeClock(epoch.Add(10 * time.Second))
	st := store.NewMemStore()
	members := member.NewRegistry()
	members.Register("alice")
	v := validator.New(validator.Config{}, members)
	sig := signaller.New()
	acks := ack.New()
	p := New(Config{InstanceIndex: 1, TotalNodeCount: 2}, st, v, members, sig, acks, WithClock(clock.Now))
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	signingC := epoch.Add(10 * time.Second)
	reqC := model.SubmissionRequest{Sender: "alice", MessageID: "c", TimestampOfSigningKey: &signingC}
	eventC, err := p.Submit(ctx, reqC)
	if err != nil {
		t.Fatalf("Submit C: %v", err)
	}
	if eventC.Kind != model.EventDeliver {
		t.Fatalf("expected C to be delivered, got %+v", eventC)
	}

	signingD := epoch.Add(10*time.Second + time.Millisecond)
	reqD := model.SubmissionRequest{Sender: "alice", MessageID: "d", TimestampOfSigningKey: &signingD}
	eventD, err := p.Submit(ctx, reqD)
	if err == nil {
		t.Fatal("expected D to be rejected")
	}
	if eventD.Kind != model.EventDeliverError {
		t.Fatalf("expected DeliverError for D, got %+v", eventD)
	}
	if !strings.Contains(eventD.Reason, "Invalid signing timestamp") || !strings.Contains(eventD.Reason, "must be before or at 1970-01-01T00:00:10Z") {
		t.Fatalf("unexpected reason: %q", eventD.Reason)
	}
}

// S3: a submission addressed to an unregistered recipient produces a
// DeliverError visible to the sender.
func TestScenarioUnknownRecipient(t *testing.T) {
	st := store.NewMemStore()
	members := member.NewRegistry()
	members.Register("alice")
	v := validator.New(validator.Config{}, members)
	sig := signaller.New()
	acks := ack.New()
	p := New(Config{InstanceIndex: 1, TotalNodeCount: 2}, st, v, members, sig, acks)
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	req := model.SubmissionRequest{
		Sender:    "alice",
		MessageID: "test-unknown-recipients",
		Batch:     []model.Envelope{{Content: []byte("x"), Recipients: []model.Member{"bob"}}},
	}
	event, err := p.Submit(ctx, req)
	if err == nil {
		t.Fatal("expected rejection for unknown recipient")
	}
	if event.Kind != model.EventDeliverError || event.Sender != "alice" || event.MessageID != "test-unknown-recipients" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Reason != "Unknown recipients: bob" {
		t.Fatalf("unexpected reason: %q", event.Reason)
	}
}

// S4: a payload that sits durable too long before its event timestamp
// is assigned is silently dropped, never producing an event.
func TestScenarioPayloadToEventBound(t *testing.T) {
	clock := newFakeClock(epoch)
	base := store.NewMemStore()
	st := &advancingStore{Store: base, clock: clock, advance: 61 * time.Second}
	members := member.NewRegistry()
	members.Register("alice")
	v := validator.New(validator.Config{}, members)
	sig := signaller.New()
	acks := ack.New()
	p := New(Config{InstanceIndex: 1, TotalNodeCount: 2, PayloadToEventMargin: time.Minute}, st, v, members, sig, acks, WithClock(clock.Now))
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	req := model.SubmissionRequest{
		Sender:    "alice",
		MessageID: "e",
		Batch:     []model.Envelope{{Content: []byte("x")}},
	}
	if _, err := p.Submit(ctx, req); err == nil {
		t.Fatal("expected submission E to be dropped")
	}

	events := eventsFor(t, base, "alice")
	if len(events) != 0 {
		t.Fatalf("expected no event for E, got %+v", events)
	}
}

// S5: a time-proof request is delivered with an empty batch, a
// tick-prefixed messageId, and is recognised as a valid time proof.
func TestScenarioTimeProof(t *testing.T) {
	st := store.NewMemStore()
	members := member.NewRegistry()
	members.Register("alice")
	v := validator.New(validator.Config{}, members)
	sig := signaller.New()
	acks := ack.New()
	p := New(Config{InstanceIndex: 1, TotalNodeCount: 2}, st, v, members, sig, acks)
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	req := model.SubmissionRequest{Sender: "alice", MessageID: "tick-abc123"}
	event, err := p.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if event.Kind != model.EventDeliver || !strings.HasPrefix(event.MessageID, "tick-") {
		t.Fatalf("expected a delivered time proof, got %+v", event)
	}
	if !event.IsTimeProof() {
		t.Fatalf("expected event to classify as time proof: %+v", event)
	}
}

// S6: with no submissions at all, the keep-alive ticker still advances
// the watermark strictly over a multi-second window.
func TestScenarioKeepAliveWatermarkAdvances(t *testing.T) {
	st := store.NewMemStore()
	members := member.NewRegistry()
	v := validator.New(validator.Config{}, members)
	sig := signaller.New()
	acks := ack.New()
	p := New(Config{InstanceIndex: 3, TotalNodeCount: 4, KeepAliveInterval: 300 * time.Millisecond}, st, v, members, sig, acks)
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	var first time.Time
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if wm, err := st.FetchWatermark(ctx, 3); err == nil {
			first = wm.Timestamp
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if first.IsZero() {
		t.Fatal("expected an initial watermark within the deadline")
	}

	time.Sleep(1200 * time.Millisecond)
	wm, err := st.FetchWatermark(ctx, 3)
	if err != nil {
		t.Fatalf("FetchWatermark: %v", err)
	}
	if !wm.Timestamp.After(first) {
		t.Fatalf("expected watermark to strictly advance, first=%s later=%s", first, wm.Timestamp)
	}
}

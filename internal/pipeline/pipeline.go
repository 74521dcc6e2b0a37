// Package pipeline implements the sequencer write path: submission
// intake through durable event persistence, watermark advance and
// subscriber wake-up.
//
// The stage order is grounded on the teacher's fixed-cadence simulation
// loop (the keep-alive ticker) and sliding-window rate limiter (intake
// backpressure), generalised from a single game tick into an ordered
// sequence of stages:
//
//	A intake -> B payload batch -> C payload persist -> D assign (single writer)
//	  -> E validate -> F event persist -> G watermark advance -> H signal
//
// Only Stage A is a buffered channel. Stages B through H run on a single
// goroutine that carries one submission through all of them before
// taking the next: stages do not run concurrently with each other, and
// each submission's payload and event are persisted as one-item batches.
// Keep-alive ticks run on a second goroutine.
//
// Stage D is the only place a counter is minted; because it runs on the
// single processing goroutine, counters and timestamps are assigned in
// intake order (invariant I1).
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerfabric/sequencer/internal/ack"
	"github.com/ledgerfabric/sequencer/internal/errs"
	"github.com/ledgerfabric/sequencer/internal/logging"
	"github.com/ledgerfabric/sequencer/internal/member"
	"github.com/ledgerfabric/sequencer/internal/model"
	"github.com/ledgerfabric/sequencer/internal/signaller"
	"github.com/ledgerfabric/sequencer/internal/store"
	"github.com/ledgerfabric/sequencer/internal/validator"
)

// Config bounds batching, backpressure and keep-alive behaviour.
type Config struct {
	IntakeQueueCapacity  int
	PayloadWriteBatchMax int
	EventWriteBatchMax   int
	PayloadToEventMargin time.Duration
	KeepAliveInterval    time.Duration
	InstanceIndex        int
	// TotalNodeCount bounds the HA fleet InstanceIndex is a slot within.
	// It does not stride the counter space: every instance still mints
	// from the same contiguous, store-backed sequence, so Start rejects
	// an InstanceIndex outside [0, TotalNodeCount).
	TotalNodeCount int
}

// submission is an accepted intake item travelling down the pipeline.
type submission struct {
	req     model.SubmissionRequest
	result  chan<- Result
	arrived time.Time
}

// Result is delivered back to the submitter once a submission has
// either been sequenced or rejected.
type Result struct {
	Event model.Event
	Err   error
}

// Pipeline wires the write-path stages together over buffered channels.
type Pipeline struct {
	cfg       Config
	st        store.Store
	validator *validator.Validator
	members   *member.Registry
	signal    *signaller.EventSignaller
	acks      *ack.Tracker
	now       func() time.Time
	log       *logging.Logger

	intake chan submission

	mu             sync.Mutex
	nextCounter    uint64
	nextPayload    model.PayloadID
	lastAssignedTs time.Time
	lastWatermark  time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option customises pipeline construction.
type Option func(*Pipeline)

// WithClock overrides the default wall-clock time source.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithLogger overrides the default discard logger.
func WithLogger(log *logging.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// New constructs a Pipeline ready to Start.
func New(cfg Config, st store.Store, v *validator.Validator, members *member.Registry, signal *signaller.EventSignaller, acks *ack.Tracker, opts ...Option) *Pipeline {
	if cfg.IntakeQueueCapacity <= 0 {
		cfg.IntakeQueueCapacity = 1024
	}
	if cfg.PayloadWriteBatchMax <= 0 {
		cfg.PayloadWriteBatchMax = 256
	}
	if cfg.EventWriteBatchMax <= 0 {
		cfg.EventWriteBatchMax = 256
	}
	if cfg.TotalNodeCount <= 0 {
		cfg.TotalNodeCount = 1
	}
	p := &Pipeline{
		cfg:         cfg,
		st:          st,
		validator:   v,
		members:     members,
		signal:      signal,
		acks:        acks,
		now:         time.Now,
		log:         logging.NewTestLogger(),
		intake:      make(chan submission, cfg.IntakeQueueCapacity),
		nextCounter: 0,
		nextPayload: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start resumes counter/payload allocation from the store's existing log
// and launches the pipeline's background stages. Callers must call Stop
// to release resources.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.cfg.InstanceIndex < 0 || p.cfg.InstanceIndex >= p.cfg.TotalNodeCount {
		return errs.New(errs.InvalidRequest, "instance index out of range for configured node count")
	}

	tail, err := p.st.ReadEvents(ctx, 0, 0)
	if err != nil {
		return err
	}
	if len(tail) > 0 {
		last := tail[len(tail)-1]
		p.nextCounter = last.Counter + 1
		p.lastAssignedTs = last.Timestamp
		maxPayload := model.PayloadID(0)
		for _, e := range tail {
			if e.PayloadRef > maxPayload {
				maxPayload = e.PayloadRef
			}
		}
		p.nextPayload = maxPayload + 1
	}
	if wm, err := p.st.FetchWatermark(ctx, p.cfg.InstanceIndex); err == nil {
		p.lastWatermark = wm.Timestamp
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(runCtx)

	if p.cfg.KeepAliveInterval > 0 {
		p.wg.Add(1)
		go p.keepAlive(runCtx)
	}
	return nil
}

// Stop cancels the background stages and waits for them to exit.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Submit enqueues req for sequencing, blocking until a Result is
// available or ctx is cancelled. Submit never blocks indefinitely on a
// full intake queue: it returns an Overloaded error immediately instead.
func (p *Pipeline) Submit(ctx context.Context, req model.SubmissionRequest) (model.Event, error) {
	result := make(chan Result, 1)
	select {
	case p.intake <- submission{req: req, result: result, arrived: p.now()}:
	default:
		return model.Event{}, errs.New(errs.Overloaded, "intake queue is full")
	}

	select {
	case res := <-result:
		return res.Event, res.Err
	case <-ctx.Done():
		return model.Event{}, errs.Wrap(errs.Unavailable, "submission cancelled", ctx.Err())
	}
}

// run is the single goroutine driving stages B through H. Serializing
// all stages onto one goroutine keeps Stage D (counter assignment)
// strictly serial while still giving submitters a responsive, buffered
// intake.
func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case sub := <-p.intake:
			p.process(ctx, sub)
		}
	}
}

func (p *Pipeline) drain() {
	for {
		select {
		case sub := <-p.intake:
			sub.result <- Result{Err: errs.New(errs.ShuttingDown, "sequencer instance is shutting down")}
		default:
			return
		}
	}
}

// process carries one submission through stages B-H: payload persist,
// timestamp/counter assignment, validation against the assigned
// timestamp, event persist, watermark advance and signal.
func (p *Pipeline) process(ctx context.Context, sub submission) {
	var payloadRef model.PayloadID
	var payloadPersistedAt time.Time
	if len(sub.req.Batch) > 0 {
		payloadRef = p.nextPayloadID()
		payload := model.Payload{ID: payloadRef, Bytes: encodeBatch(sub.req.Batch)}
		if err := p.st.SavePayloads(ctx, []model.Payload{payload}); err != nil {
			sub.result <- Result{Err: errs.Wrap(errs.Unavailable, "payload persistence failed", err)}
			return
		}
		payloadPersistedAt = p.now()
	}

	eventTs := p.nextEventTimestamp()
	decision := p.validator.Evaluate(validator.Input{
		Request:              sub.req,
		EventTimestamp:       eventTs,
		PayloadPersistedAt:   payloadPersistedAt,
		PayloadToEventMargin: p.cfg.PayloadToEventMargin,
	})

	if !decision.Accepted && decision.Disposition == validator.DispositionSilentDrop {
		p.log.Warn(decision.Detail, logging.Reason(string(decision.Reason)), logging.String("sender", string(sub.req.Sender)))
		sub.result <- Result{Err: errs.New(errs.Refused, string(decision.Reason))}
		return
	}

	kind := model.EventDeliver
	reason := ""
	var recipients []model.Member
	if !decision.Accepted {
		// A DeliverError never references a payload, even if one was
		// already durably written: the row is simply left orphaned for
		// later pruning, per invariant that only Deliver events carry a
		// payload reference.
		kind = model.EventDeliverError
		reason = decision.Detail
		payloadRef = 0
	} else {
		recipients = collectRecipients(sub.req.Batch)
	}

	event := model.Event{
		Counter:    p.nextCounterValue(),
		Timestamp:  eventTs,
		Kind:       kind,
		MessageID:  sub.req.MessageID,
		Sender:     sub.req.Sender,
		Recipients: recipients,
		PayloadRef: payloadRef,
		Reason:     reason,
	}
	if err := p.st.SaveEvents(ctx, []model.Event{event}); err != nil {
		sub.result <- Result{Err: errs.Wrap(errs.Unavailable, "event persistence failed", err)}
		return
	}

	p.advanceWatermark(ctx, event.Timestamp)
	p.signal.Notify()

	if !decision.Accepted {
		sub.result <- Result{Event: event, Err: errs.New(errs.Refused, string(decision.Reason))}
		return
	}
	sub.result <- Result{Event: event}
}

// nextEventTimestamp assigns event_ts = max(now, last_assigned_ts+1µs),
// enforcing strict monotonicity even if the wall clock does not.
func (p *Pipeline) nextEventTimestamp() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := p.now()
	if !ts.After(p.lastAssignedTs) {
		ts = p.lastAssignedTs.Add(time.Microsecond)
	}
	p.lastAssignedTs = ts
	return ts
}

func (p *Pipeline) nextCounterValue() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	counter := p.nextCounter
	p.nextCounter++
	return counter
}

func (p *Pipeline) nextPayloadID() model.PayloadID {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextPayload
	p.nextPayload++
	return id
}

// advanceWatermark persists the new watermark before Notify runs, so a
// woken subscriber re-reading the store always observes durability for
// everything the wake-up implies.
func (p *Pipeline) advanceWatermark(ctx context.Context, ts time.Time) {
	p.mu.Lock()
	if !ts.After(p.lastWatermark) {
		p.mu.Unlock()
		return
	}
	p.lastWatermark = ts
	p.mu.Unlock()

	_ = p.st.SaveWatermark(ctx, model.Watermark{
		InstanceIndex: p.cfg.InstanceIndex,
		Timestamp:     ts,
		Online:        true,
	})
}

// keepAlive periodically advances the watermark even when no submission
// arrives, so subscribers are not stalled behind an idle instance.
func (p *Pipeline) keepAlive(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.advanceWatermark(ctx, p.now())
			p.signal.Notify()
		}
	}
}

func collectRecipients(batch []model.Envelope) []model.Member {
	seen := make(map[model.Member]struct{})
	var out []model.Member
	for _, e := range batch {
		for _, r := range e.Recipients {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// encodeBatch flattens a submission's envelopes into a single stored
// payload blob. The wire encoding of payload content is a transport
// concern; the write path treats it as an opaque byte string.
func encodeBatch(batch []model.Envelope) []byte {
	var size int
	for _, e := range batch {
		size += len(e.Content)
	}
	out := make([]byte, 0, size)
	for _, e := range batch {
		out = append(out, e.Content...)
	}
	return out
}

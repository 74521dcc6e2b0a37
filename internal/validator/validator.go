// Package validator applies the sequencer's submission-acceptance
// predicates, in order, grounded on the teacher's sequencing/freshness
// gate. Each predicate either passes or reports a single Reason; the
// first failing predicate wins. Predicates run against the event
// timestamp Stage D already assigned, not a separately-read clock, so
// evaluation is reproducible from the submission and its assigned
// timestamps alone.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ledgerfabric/sequencer/internal/model"
)

// Reason enumerates why a submission was rejected.
type Reason string

const (
	ReasonNone                        Reason = ""
	ReasonEmptyMessageID              Reason = "empty_message_id"
	ReasonMessageIDTooLong            Reason = "message_id_too_long"
	ReasonMaxSequencingTimeExceeded   Reason = "max_sequencing_time_exceeded"
	ReasonSigningTimestampOutOfWindow Reason = "signing_timestamp_out_of_window"
	ReasonPayloadToEventBoundExceeded Reason = "payload_to_event_bound_exceeded"
	ReasonUnknownRecipient            Reason = "unknown_recipient"
)

// String returns the textual representation of the reason.
func (r Reason) String() string { return string(r) }

// Disposition says how the pipeline should handle a rejected
// submission: render it as an in-stream error event, or drop it
// without producing any event at all.
type Disposition int

const (
	// DispositionDeliverError means the pipeline must emit a
	// DeliverError event addressed to the sender.
	DispositionDeliverError Disposition = iota
	// DispositionSilentDrop means no event is produced; the caller
	// only sees a rejection, and the submission leaves no durable
	// trace beyond a logged warning.
	DispositionSilentDrop
)

// Decision summarises whether a submission passed validation.
type Decision struct {
	Accepted    bool
	Reason      Reason
	Detail      string
	Disposition Disposition
}

// MemberResolver reports whether an identity is a known, enabled member
// and when it was registered. Implemented by *member.Registry.
type MemberResolver interface {
	Resolve(identity model.Member) (model.MemberID, error)
	RegisteredAt(identity model.Member) (time.Time, error)
}

// Config holds no tunables; the payload-to-event margin is passed per
// evaluation in Input.
type Config struct{}

// Validator is a stateless, ordered predicate list applied to every
// submission before it may enter the durable log.
type Validator struct {
	cfg     Config
	members MemberResolver
}

// New constructs a Validator against the given member resolver.
func New(cfg Config, members MemberResolver) *Validator {
	return &Validator{cfg: cfg, members: members}
}

// Input bundles a submission with the timestamps Stage D already
// assigned, which the payload-to-event and signing-window predicates
// are evaluated against.
type Input struct {
	Request              model.SubmissionRequest
	EventTimestamp       time.Time
	PayloadPersistedAt   time.Time
	PayloadToEventMargin time.Duration
}

// Evaluate runs every predicate against in, in order, stopping at the
// first rejection. Time-proof submissions skip recipient checks since
// their batch is always empty.
func (v *Validator) Evaluate(in Input) Decision {
	req := in.Request
	if d := checkMessageID(req); !d.Accepted {
		return d
	}
	if d := checkMaxSequencingTime(req, in.EventTimestamp); !d.Accepted {
		return d
	}
	if d := checkSigningTimestamp(req, in.EventTimestamp); !d.Accepted {
		return d
	}
	if d := checkPayloadToEventBound(in); !d.Accepted {
		return d
	}
	if req.IsTimeProof() {
		return Decision{Accepted: true}
	}
	if d := v.checkRecipients(req, in.EventTimestamp); !d.Accepted {
		return d
	}
	return Decision{Accepted: true}
}

func checkMessageID(req model.SubmissionRequest) Decision {
	if req.MessageID == "" {
		return Decision{Reason: ReasonEmptyMessageID, Detail: "messageId must not be empty"}
	}
	if len(req.MessageID) > model.MaxMessageIDBytes {
		return Decision{Reason: ReasonMessageIDTooLong, Detail: "messageId exceeds maximum length"}
	}
	return Decision{Accepted: true}
}

// checkMaxSequencingTime silently drops submissions the sequencer could
// not order in time: the submitter sees a rejection, but no event
// enters the durable log.
func checkMaxSequencingTime(req model.SubmissionRequest, eventTs time.Time) Decision {
	if req.MaxSequencingTime.IsZero() {
		return Decision{Accepted: true}
	}
	if eventTs.After(req.MaxSequencingTime) {
		detail := fmt.Sprintf(
			"sequencer time %s has exceeded the max-sequencing-time %s for deliver[message-id:%s]",
			eventTs.Format(time.RFC3339Nano), req.MaxSequencingTime.Format(time.RFC3339Nano), req.MessageID,
		)
		return Decision{Reason: ReasonMaxSequencingTimeExceeded, Detail: detail, Disposition: DispositionSilentDrop}
	}
	return Decision{Accepted: true}
}

// checkSigningTimestamp rejects a signing-key timestamp strictly after
// the assigned event timestamp; equal is accepted.
func checkSigningTimestamp(req model.SubmissionRequest, eventTs time.Time) Decision {
	if req.TimestampOfSigningKey == nil {
		return Decision{Accepted: true}
	}
	if req.TimestampOfSigningKey.After(eventTs) {
		detail := fmt.Sprintf(
			"Invalid signing timestamp %s: must be before or at %s",
			req.TimestampOfSigningKey.Format(time.RFC3339Nano), eventTs.Format(time.RFC3339),
		)
		return Decision{Reason: ReasonSigningTimestampOutOfWindow, Detail: detail}
	}
	return Decision{Accepted: true}
}

// checkPayloadToEventBound silently drops submissions whose payload sat
// durable too long before a timestamp could be assigned to it, so
// clients never observe an event with an implausible age.
func checkPayloadToEventBound(in Input) Decision {
	if in.PayloadPersistedAt.IsZero() || in.PayloadToEventMargin <= 0 {
		return Decision{Accepted: true}
	}
	gap := in.EventTimestamp.Sub(in.PayloadPersistedAt)
	if gap > in.PayloadToEventMargin {
		detail := fmt.Sprintf(
			"The payload to event time bound [%s] has been been exceeded by payload time [%s] and sequenced event time [%s]",
			formatISO8601Duration(in.PayloadToEventMargin), in.PayloadPersistedAt.Format(time.RFC3339Nano), in.EventTimestamp.Format(time.RFC3339Nano),
		)
		return Decision{Reason: ReasonPayloadToEventBoundExceeded, Detail: detail, Disposition: DispositionSilentDrop}
	}
	return Decision{Accepted: true}
}

// formatISO8601Duration renders d in the ISO-8601 "PT" duration form
// (PT1M, PT1H30M, PT0.5S), the form warning text must match exactly.
func formatISO8601Duration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}

	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute

	var b strings.Builder
	b.WriteString(sign)
	b.WriteString("PT")
	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	if d > 0 {
		if d%time.Second == 0 {
			fmt.Fprintf(&b, "%dS", int64(d/time.Second))
		} else {
			fmt.Fprintf(&b, "%gS", d.Seconds())
		}
	} else if hours == 0 && minutes == 0 {
		b.WriteString("0S")
	}
	return b.String()
}

// checkRecipients rejects a batch naming any recipient the resolver
// doesn't know, or that it knows but registered after eventTs: such a
// member did not exist yet at the moment this event was sequenced, so
// it cannot be a valid recipient of it.
func (v *Validator) checkRecipients(req model.SubmissionRequest, eventTs time.Time) Decision {
	if v.members == nil {
		return Decision{Accepted: true}
	}
	var unknown []string
	for _, envelope := range req.Batch {
		for _, recipient := range envelope.Recipients {
			if _, err := v.members.Resolve(recipient); err != nil {
				unknown = append(unknown, string(recipient))
				continue
			}
			registeredAt, err := v.members.RegisteredAt(recipient)
			if err != nil || registeredAt.After(eventTs) {
				unknown = append(unknown, string(recipient))
			}
		}
	}
	if len(unknown) == 0 {
		return Decision{Accepted: true}
	}
	sort.Strings(unknown)
	return Decision{
		Reason: ReasonUnknownRecipient,
		Detail: fmt.Sprintf("Unknown recipients: %s", strings.Join(unknown, ", ")),
	}
}

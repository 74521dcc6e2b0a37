// Package model defines the sequencer's wire-independent data model:
// members, payloads, submissions and the two event variants produced by
// the write path.
package model

import "time"

// MemberID is a stable integer handle assigned at registration; it is
// never reassigned or renumbered.
type MemberID uint64

// Member is an opaque participant identity, authenticated or
// unauthenticated (mediators and domain components are members too).
type Member string

// MaxMessageIDBytes bounds the length of a submitter-chosen MessageID.
const MaxMessageIDBytes = 73

// TimeProofMessageIDPrefix marks a submission as a time-proof request.
const TimeProofMessageIDPrefix = "tick-"

// PayloadID is a unique, monotone identifier for a stored payload,
// typically derived from its insert time.
type PayloadID uint64

// Payload is durable content referenced by a Deliver event.
type Payload struct {
	ID    PayloadID
	Bytes []byte
}

// Envelope is a single (content, recipients) pair within a submission batch.
type Envelope struct {
	Content    []byte
	Recipients []Member
}

// SubmissionRequest is what a member hands to the Submission Intake.
type SubmissionRequest struct {
	Sender                Member
	MessageID             string
	Batch                 []Envelope
	MaxSequencingTime     time.Time
	TimestampOfSigningKey *time.Time
}

// IsTimeProof reports whether this submission qualifies as a time-proof
// request: messageId has the tick- prefix and the batch is empty.
func (s SubmissionRequest) IsTimeProof() bool {
	return len(s.MessageID) >= len(TimeProofMessageIDPrefix) &&
		s.MessageID[:len(TimeProofMessageIDPrefix)] == TimeProofMessageIDPrefix &&
		len(s.Batch) == 0
}

// EventKind distinguishes the two terminal event variants.
type EventKind int

const (
	// EventDeliver carries a successfully sequenced payload reference.
	EventDeliver EventKind = iota
	// EventDeliverError carries a rejection reason addressed to the sender.
	EventDeliverError
)

// Event is a single row in the sequencer's durable, strictly ordered log.
type Event struct {
	Counter    uint64
	Timestamp  time.Time
	Kind       EventKind
	MessageID  string
	Sender     Member
	Recipients []Member
	PayloadRef PayloadID
	Reason     string
}

// IsTimeProof reports whether a Deliver event is a time-proof witness:
// its messageId carries the tick- prefix and it references no envelopes
// (recipients is empty and it is addressed only to the sender as witness).
func (e Event) IsTimeProof() bool {
	if e.Kind != EventDeliver {
		return false
	}
	if len(e.MessageID) < len(TimeProofMessageIDPrefix) || e.MessageID[:len(TimeProofMessageIDPrefix)] != TimeProofMessageIDPrefix {
		return false
	}
	return len(e.Recipients) == 0
}

// Watermark describes the largest timestamp at or below which every
// event produced by instance is durable and visible to subscribers.
type Watermark struct {
	InstanceIndex int
	Timestamp     time.Time
	Online        bool
}

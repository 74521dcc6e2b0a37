// Package timeproof recognises and serves time-proof submissions: a
// member requests a one-off witness timestamp without submitting any
// payload, grounded on the teacher's periodic time-sync service, reworked
// from a push-stream into a single request/response served by the write
// path itself.
package timeproof

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ledgerfabric/sequencer/internal/model"
)

// NewRequest builds a SubmissionRequest that the write path will
// recognise as a time-proof: an empty batch with a tick-prefixed,
// process-unique messageId.
func NewRequest(sender model.Member) model.SubmissionRequest {
	return model.SubmissionRequest{
		Sender:    sender,
		MessageID: fmt.Sprintf("%s%s", model.TimeProofMessageIDPrefix, uuid.NewString()),
	}
}

// Response is returned to the caller once the time-proof's Deliver event
// has been durably sequenced.
type Response struct {
	Counter uint64
	Event   model.Event
}

// FromEvent converts a sequenced Deliver event known to be a time-proof
// witness into its caller-facing Response.
func FromEvent(e model.Event) (Response, error) {
	if !e.IsTimeProof() {
		return Response{}, fmt.Errorf("timeproof: event %d is not a time-proof witness", e.Counter)
	}
	return Response{Counter: e.Counter, Event: e}, nil
}

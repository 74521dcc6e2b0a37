// Package transport maps the sequencer's internal error taxonomy onto
// gRPC status codes, the shared error vocabulary every front door
// (WebSocket, future gRPC) renders to callers.
package transport

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ledgerfabric/sequencer/internal/errs"
)

// ToStatus converts a sequencer error into a gRPC status, preserving the
// original message. A nil error maps to an OK status.
func ToStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	se, ok := errs.As(err)
	if !ok {
		return status.New(codes.Internal, err.Error())
	}
	return status.New(kindToCode(se.Kind), se.Error())
}

func kindToCode(kind errs.Kind) codes.Code {
	switch kind {
	case errs.InvalidRequest:
		return codes.InvalidArgument
	case errs.Refused:
		return codes.FailedPrecondition
	case errs.Overloaded:
		return codes.ResourceExhausted
	case errs.ShuttingDown:
		return codes.Unavailable
	case errs.Unavailable:
		return codes.Unavailable
	case errs.InternalError:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// FromStatus recovers a sequencer error from a gRPC status, for clients
// that need to branch on Kind after a round trip.
func FromStatus(st *status.Status) error {
	if st == nil || st.Code() == codes.OK {
		return nil
	}
	return errs.New(codeToKind(st.Code()), st.Message())
}

func codeToKind(code codes.Code) errs.Kind {
	switch code {
	case codes.InvalidArgument:
		return errs.InvalidRequest
	case codes.FailedPrecondition:
		return errs.Refused
	case codes.ResourceExhausted:
		return errs.Overloaded
	case codes.Unavailable:
		return errs.Unavailable
	default:
		return errs.InternalError
	}
}

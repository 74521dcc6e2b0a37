// Package member maintains the sequencer's participant registry: the
// in-memory mapping from a member identity to the MemberID handle
// assigned at registration.
package member

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ledgerfabric/sequencer/internal/model"
)

// ErrInvalidMember is returned when a registration request carries a
// blank identity.
var ErrInvalidMember = errors.New("member: identity must not be empty")

// ErrUnknownMember is returned when a recipient or sender reference
// names a member the registry has never seen.
var ErrUnknownMember = errors.New("member: unknown member")

// ErrMemberDisabled is returned when an operation targets a member that
// has been administratively disabled.
var ErrMemberDisabled = errors.New("member: member is disabled")

// record is the registry's internal bookkeeping for one member.
type record struct {
	id           model.MemberID
	registeredAt time.Time
	disabled     bool
}

// RegistryOption configures optional Registry behaviour at construction time.
type RegistryOption func(*Registry)

// Registry assigns and tracks MemberID handles. Registration is
// idempotent: registering the same identity twice returns the same
// handle rather than allocating a new one.
type Registry struct {
	mu sync.RWMutex

	byIdentity map[model.Member]*record
	byID       map[model.MemberID]model.Member
	nextID     model.MemberID
	now        func() time.Time
}

// WithRegistryClock overrides the default wall-clock time source.
func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRegistry constructs an empty member registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byIdentity: make(map[model.Member]*record),
		byID:       make(map[model.MemberID]model.Member),
		nextID:     1,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register assigns a MemberID to identity, or returns the handle already
// on file if identity was registered before.
func (r *Registry) Register(identity model.Member) (model.MemberID, error) {
	trimmed := model.Member(strings.TrimSpace(string(identity)))
	if trimmed == "" {
		return 0, ErrInvalidMember
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byIdentity[trimmed]; ok {
		return existing.id, nil
	}

	id := r.nextID
	r.nextID++
	r.byIdentity[trimmed] = &record{id: id, registeredAt: r.now()}
	r.byID[id] = trimmed
	return id, nil
}

// Resolve looks up the MemberID assigned to identity, failing if the
// member was never registered or has been disabled.
func (r *Registry) Resolve(identity model.Member) (model.MemberID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byIdentity[identity]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMember, identity)
	}
	if rec.disabled {
		return 0, fmt.Errorf("%w: %s", ErrMemberDisabled, identity)
	}
	return rec.id, nil
}

// RegisteredAt returns the time identity was first registered, failing
// if the member was never registered. Validators compare this against
// an event's assigned timestamp to enforce that a member cannot be
// named as a recipient of an event sequenced before it existed.
func (r *Registry) RegisteredAt(identity model.Member) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byIdentity[identity]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownMember, identity)
	}
	return rec.registeredAt, nil
}

// Known reports whether identity has ever been registered, regardless
// of its disabled state.
func (r *Registry) Known(identity model.Member) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byIdentity[identity]
	return ok
}

// Disable marks identity as disabled; subsequent Resolve calls fail but
// the member's history and MemberID remain on file.
func (r *Registry) Disable(identity model.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byIdentity[identity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMember, identity)
	}
	rec.disabled = true
	return nil
}

// Identity reverses an already-resolved MemberID back to its identity,
// used when rendering events for delivery.
func (r *Registry) Identity(id model.MemberID) (model.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byID[id]
	return identity, ok
}

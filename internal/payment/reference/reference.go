// Package reference models the payment reference attached to subscriptions,
// audit entries and transactions. Only gateway references are ever matched
// against gateway notifications; administrative and synthetic markers are
// carried for traceability.
package reference

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	KindGateway        Kind = "gateway"
	KindAdministrative Kind = "administrative"
	KindSynthetic      Kind = "synthetic"
)

type Reason string

const (
	ReasonCancellation Reason = "cancellation"
	ReasonRenewal      Reason = "renewal"
	ReasonExpiry       Reason = "expiry"
	ReasonAssignment   Reason = "assignment"
)

const (
	prefixAdmin     = "ADMIN_"
	prefixCancelled = "CANCELLED_"
	prefixRenewal   = "AUTO_RENEW_"
	prefixExpired   = "EXPIRED_"
	prefixAssigned  = "ASSIGNED_"

	markerTimeLayout = "20060102150405"
	maxValueLength   = 255
)

var reservedPrefixes = []string{
	prefixAdmin,
	prefixCancelled,
	prefixRenewal,
	prefixExpired,
	prefixAssigned,
}

var (
	ErrEmptyReference    = errors.New("empty_payment_reference")
	ErrReservedReference = errors.New("reserved_payment_reference")
	ErrReferenceTooLong  = errors.New("payment_reference_too_long")
	ErrInvalidKind       = errors.New("invalid_payment_reference_kind")
	ErrInvalidReason     = errors.New("invalid_payment_reference_reason")
	ErrMissingActor      = errors.New("missing_actor")
)

type Reference struct {
	Kind     Kind
	Value    string
	Actor    string
	Reason   Reason
	IssuedAt time.Time
}

// Gateway wraps an identifier issued by the payment gateway.
func Gateway(id string) (Reference, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Reference{}, ErrEmptyReference
	}
	if len(id) > maxValueLength {
		return Reference{}, ErrReferenceTooLong
	}
	upper := strings.ToUpper(id)
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return Reference{}, ErrReservedReference
		}
	}
	return Reference{Kind: KindGateway, Value: id}, nil
}

// Administrative marks a plan assignment performed by an operator.
func Administrative(actor string, at time.Time) (Reference, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return Reference{}, ErrMissingActor
	}
	at = at.UTC()
	return Reference{
		Kind:     KindAdministrative,
		Value:    marker(prefixAdmin, at),
		Actor:    actor,
		IssuedAt: at,
	}, nil
}

// Synthetic marks a system-initiated event with no external payment.
func Synthetic(reason Reason, at time.Time) (Reference, error) {
	var prefix string
	switch reason {
	case ReasonCancellation:
		prefix = prefixCancelled
	case ReasonRenewal:
		prefix = prefixRenewal
	case ReasonExpiry:
		prefix = prefixExpired
	case ReasonAssignment:
		prefix = prefixAssigned
	default:
		return Reference{}, ErrInvalidReason
	}
	at = at.UTC()
	return Reference{
		Kind:     KindSynthetic,
		Value:    marker(prefix, at),
		Reason:   reason,
		IssuedAt: at,
	}, nil
}

// Restore rebuilds a reference from its persisted columns.
func Restore(kind string, value string) (Reference, error) {
	switch Kind(kind) {
	case KindGateway, KindAdministrative, KindSynthetic:
	default:
		return Reference{}, ErrInvalidKind
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return Reference{}, ErrEmptyReference
	}
	return Reference{Kind: Kind(kind), Value: value}, nil
}

// Reconcilable reports whether gateway notifications may settle this reference.
func (r Reference) Reconcilable() bool {
	return r.Kind == KindGateway && r.Value != ""
}

func (r Reference) IsZero() bool {
	return r.Value == ""
}

func (r Reference) String() string {
	return r.Value
}

func marker(prefix string, at time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy())
	return fmt.Sprintf("%s%s_%s", prefix, at.Format(markerTimeLayout), id.String())
}

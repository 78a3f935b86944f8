package rule

import (
	"time"

	"github.com/google/uuid"
)

// OperationType identifies the kind of application operation being judged.
// The engine treats operation types as opaque; the constants below are the
// conventional vocabulary used by the built-in rule sources.
type OperationType string

const (
	OpPurchaseInitiate OperationType = "purchase.initiate"
	OpPurchaseComplete OperationType = "purchase.complete"
	OpGameplayStart    OperationType = "gameplay.start"
	OpGameplayTransit  OperationType = "gameplay.transition"
	OpAccessRequest    OperationType = "access.request"
	OpDataMutation     OperationType = "data.mutation"
)

// Operation is the subject of a validation pass. It is immutable once
// constructed; the payload map is copied by NewOperation and must not be
// modified afterwards.
type Operation struct {
	// Type is the operation-type discriminator rules match against.
	Type OperationType

	// ID uniquely identifies this operation instance.
	ID string

	// ActorID identifies who initiated the operation.
	ActorID string

	// Timestamp is when the operation was constructed.
	Timestamp time.Time

	// Payload carries arbitrary operation data.
	Payload map[string]any
}

// NewOperation constructs an Operation with a generated id and the current
// timestamp. The payload is copied so later changes by the caller do not
// leak into the operation.
func NewOperation(opType OperationType, actorID string, payload map[string]any) Operation {
	return Operation{
		Type:      opType,
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Timestamp: time.Now(),
		Payload:   copyMap(payload),
	}
}

// copyMap returns a shallow copy of m, or an empty map when m is nil.
func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

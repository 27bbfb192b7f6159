package audit

import (
	"time"

	"namedir/pkg/domain"
)

// Kind names an auditable action in the directory lifecycle.
type Kind string

const (
	KindBindingConfirmed   Kind = "binding_confirmed"
	KindBindingRevoked     Kind = "binding_revoked"
	KindConflictResolved   Kind = "conflict_resolved"
	KindVersionActivated   Kind = "version_activated"
	KindRecoveryInitiated  Kind = "recovery_initiated"
	KindRecoveryAuthorized Kind = "recovery_authorized"
	KindRecoveryRejected   Kind = "recovery_rejected"
	KindRotationSubmitted  Kind = "key_rotation_submitted"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Kind      Kind              `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Address   string            `json:"address,omitempty"`
	Nickname  string            `json:"nickname,omitempty"`
	Version   domain.VersionTag `json:"version,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	TxHash    string            `json:"tx_hash,omitempty"`
}

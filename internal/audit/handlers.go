package audit

import (
	"context"
	"log/slog"
)

// SecurityKinds are the events the security channel watches: failed or
// contested actions that may indicate an attack on an address.
var SecurityKinds = []Kind{
	KindRecoveryRejected,
	KindConflictResolved,
}

// OpsKinds are routine lifecycle events kept for operational visibility.
var OpsKinds = []Kind{
	KindBindingConfirmed,
	KindBindingRevoked,
	KindVersionActivated,
	KindRecoveryInitiated,
	KindRecoveryAuthorized,
	KindRotationSubmitted,
}

// SecurityHandler surfaces security-relevant events at warning level so
// alerting can key off the log stream.
type SecurityHandler struct {
	logger *slog.Logger
}

func NewSecurityHandler(logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{logger: logger}
}

func (h *SecurityHandler) Handle(_ context.Context, e Event) error {
	h.logger.Warn("security event",
		"kind", e.Kind,
		"address", e.Address,
		"outcome", e.Outcome,
		"reason", e.Reason,
		"request_id", e.RequestID,
		"at", e.Timestamp,
	)
	return nil
}

// OpsHandler records routine lifecycle events.
type OpsHandler struct {
	logger *slog.Logger
}

func NewOpsHandler(logger *slog.Logger) *OpsHandler {
	return &OpsHandler{logger: logger}
}

func (h *OpsHandler) Handle(_ context.Context, e Event) error {
	h.logger.Info("directory event",
		"kind", e.Kind,
		"address", e.Address,
		"nickname", e.Nickname,
		"version", e.Version,
		"outcome", e.Outcome,
		"tx_hash", e.TxHash,
		"at", e.Timestamp,
	)
	return nil
}

// NewDefaultRouter wires the standard security/ops split.
func NewDefaultRouter(logger *slog.Logger) *Router {
	r := NewRouter(logger, NewOpsHandler(logger))
	sec := NewSecurityHandler(logger)
	for _, k := range SecurityKinds {
		r.Register(k, sec)
	}
	ops := NewOpsHandler(logger)
	for _, k := range OpsKinds {
		r.Register(k, ops)
	}
	return r
}

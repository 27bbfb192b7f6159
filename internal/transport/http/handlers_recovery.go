package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"namedir/internal/platform/middleware"
	"namedir/internal/platform/ratelimit"
	"namedir/internal/recovery"
	"namedir/internal/transport/http/shared"
	"namedir/pkg/domain"
	dErrors "namedir/pkg/domain-errors"
)

// RecoveryService is the slice of the recovery service the endpoints use.
type RecoveryService interface {
	Initiate(ctx context.Context, addr domain.Address, userAgent string) (*recovery.Request, error)
	Submit(ctx context.Context, id domain.RequestID, signature, newKey []byte) (*recovery.Request, error)
	Status(ctx context.Context, id domain.RequestID) (*recovery.Request, error)
	History(ctx context.Context, addr domain.Address) ([]recovery.Request, error)
}

// RecoveryHandler serves the recovery flow. Public status responses stay
// coarse; rejection reasons and device metadata are only visible on the
// owner channel, so an attacker probing recovery learns nothing from it.
type RecoveryHandler struct {
	svc       RecoveryService
	logger    *slog.Logger
	validator middleware.TokenValidator
	limits    *ratelimit.Middleware
}

func NewRecoveryHandler(svc RecoveryService, validator middleware.TokenValidator, limits *ratelimit.Middleware, logger *slog.Logger) *RecoveryHandler {
	return &RecoveryHandler{svc: svc, logger: logger, validator: validator, limits: limits}
}

// Register mounts the recovery routes. Initiation and submission carry the
// tight budget; status polling only needs the lookup budget.
func (h *RecoveryHandler) Register(r chi.Router) {
	tight := r.With(h.limits.Limit("recovery", ratelimit.RecoveryLimit))
	tight.Post("/v1/recovery", h.handleInitiate)
	tight.Post("/v1/recovery/{id}", h.handleSubmit)
	r.With(h.limits.Limit("lookup", ratelimit.LookupLimit)).
		Get("/v1/recovery/{id}", h.handleStatus)

	r.Group(func(owner chi.Router) {
		owner.Use(middleware.RequireAuth(h.validator, h.logger))
		owner.Get("/v1/recovery/{id}/details", h.handleDetails)
		owner.Get("/v1/owner/recovery", h.handleHistory)
	})
}

type initiateRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	RequestID string    `json:"request_id"`
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    string    `json:"status"`
}

func (h *RecoveryHandler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed address"))
		return
	}

	created, err := h.svc.Initiate(r.Context(), addr, r.UserAgent())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, challengeResponse{
		RequestID: created.ID.String(),
		Challenge: created.ChallengeNonce,
		ExpiresAt: created.ExpiresAt,
		Status:    string(created.Status),
	})
}

type submitRequest struct {
	Signature string `json:"signature"`
	NewKey    string `json:"new_key"`
}

// statusResponse is the coarse public view of a request.
type statusResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	TxHash    string `json:"tx_hash,omitempty"`
}

func toStatusResponse(req *recovery.Request) statusResponse {
	return statusResponse{
		RequestID: req.ID.String(),
		Status:    string(req.Status),
		TxHash:    req.TxHash,
	}
}

func (h *RecoveryHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed request id"))
		return
	}
	var req submitRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	sig, err := recovery.DecodeSignature(req.Signature)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed signature"))
		return
	}
	newKey, err := recovery.DecodeKey(req.NewKey)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed replacement key"))
		return
	}

	decided, err := h.svc.Submit(r.Context(), id, sig, newKey)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toStatusResponse(decided))
}

func (h *RecoveryHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed request id"))
		return
	}
	req, err := h.svc.Status(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toStatusResponse(req))
}

// detailResponse is the owner-channel view, including the decision reason
// and the originating device.
type detailResponse struct {
	RequestID string     `json:"request_id"`
	Address   string     `json:"address"`
	Status    string     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	TxHash    string     `json:"tx_hash,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	Device    deviceView `json:"device"`
}

type deviceView struct {
	Platform string `json:"platform,omitempty"`
	OS       string `json:"os,omitempty"`
	Browser  string `json:"browser,omitempty"`
	Mobile   bool   `json:"mobile"`
	Bot      bool   `json:"bot,omitempty"`
}

func toDetailResponse(req *recovery.Request) detailResponse {
	out := detailResponse{
		RequestID: req.ID.String(),
		Address:   req.Address.String(),
		Status:    string(req.Status),
		Reason:    req.Reason,
		TxHash:    req.TxHash,
		CreatedAt: req.CreatedAt,
		ExpiresAt: req.ExpiresAt,
		Device: deviceView{
			Platform: req.Device.Platform,
			OS:       req.Device.OS,
			Browser:  req.Device.Browser,
			Mobile:   req.Device.Mobile,
			Bot:      req.Device.Bot,
		},
	}
	if !req.DecidedAt.IsZero() {
		out.DecidedAt = &req.DecidedAt
	}
	return out
}

func (h *RecoveryHandler) handleDetails(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed request id"))
		return
	}
	req, err := h.svc.Status(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if !h.ownerOf(r.Context(), req.Address) {
		shared.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token does not cover this address"))
		return
	}
	shared.WriteJSON(w, http.StatusOK, toDetailResponse(req))
}

func (h *RecoveryHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ownerAddr := middleware.GetOwnerAddress(r.Context())
	addr, err := domain.ParseAddress(ownerAddr)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token carries no address"))
		return
	}
	history, err := h.svc.History(r.Context(), addr)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]detailResponse, len(history))
	for i := range history {
		out[i] = toDetailResponse(&history[i])
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"requests": out})
}

// ownerOf reports whether the authenticated token covers addr. Admin tokens
// cover every address.
func (h *RecoveryHandler) ownerOf(ctx context.Context, addr domain.Address) bool {
	if middleware.IsAdmin(ctx) {
		return true
	}
	owner, err := domain.ParseAddress(middleware.GetOwnerAddress(ctx))
	if err != nil {
		return false
	}
	return owner == addr
}

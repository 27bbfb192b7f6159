package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"namedir/internal/directory"
	"namedir/internal/platform/middleware"
	"namedir/internal/platform/ratelimit"
	"namedir/internal/transport/http/shared"
	"namedir/pkg/domain"
	dErrors "namedir/pkg/domain-errors"
)

// DirectoryService is the slice of the directory service the lookup and
// version administration endpoints use.
type DirectoryService interface {
	Get(ctx context.Context, addr domain.Address) (*directory.NicknameBinding, error)
	GetByNickname(ctx context.Context, rawNickname string) (*directory.NicknameBinding, error)
	ActivateVersion(ctx context.Context, tag domain.VersionTag, contract domain.Address) (directory.RegistryVersion, error)
	Authoritative(ctx context.Context) (directory.RegistryVersion, error)
	Versions(ctx context.Context) ([]directory.RegistryVersion, error)
}

// Sweeper kicks the stale-binding sweep after a version activation.
type Sweeper interface {
	SweepStale(ctx context.Context) error
}

// DirectoryHandler serves lookups publicly and version administration behind
// admin tokens.
type DirectoryHandler struct {
	svc       DirectoryService
	sweeper   Sweeper
	logger    *slog.Logger
	validator middleware.TokenValidator
	limits    *ratelimit.Middleware
}

func NewDirectoryHandler(svc DirectoryService, sweeper Sweeper, validator middleware.TokenValidator, limits *ratelimit.Middleware, logger *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{svc: svc, sweeper: sweeper, logger: logger, validator: validator, limits: limits}
}

// Register mounts the directory routes.
func (h *DirectoryHandler) Register(r chi.Router) {
	lookup := r.With(h.limits.Limit("lookup", ratelimit.LookupLimit))
	lookup.Get("/v1/names/{address}", h.handleResolve)
	lookup.Get("/v1/addresses/{nickname}", h.handleReverseResolve)
	lookup.Get("/v1/versions", h.handleListVersions)

	r.Group(func(admin chi.Router) {
		admin.Use(middleware.RequireAuth(h.validator, h.logger))
		admin.Use(middleware.RequireAdmin(h.logger))
		admin.Post("/v1/versions", h.handleActivateVersion)
	})
}

type bindingResponse struct {
	Address            string    `json:"address"`
	AddressChecksummed string    `json:"address_checksummed"`
	Nickname           string    `json:"nickname"`
	NicknameNormalized string    `json:"nickname_normalized"`
	SourceVersion      string    `json:"source_version"`
	ConfirmedAt        time.Time `json:"confirmed_at"`
	PendingRevocation  bool      `json:"pending_revocation,omitempty"`
}

func toBindingResponse(b *directory.NicknameBinding) bindingResponse {
	return bindingResponse{
		Address:            b.Address.String(),
		AddressChecksummed: b.Address.Checksum(),
		Nickname:           b.Nickname.String(),
		NicknameNormalized: b.NicknameNormalized,
		SourceVersion:      b.SourceVersion.String(),
		ConfirmedAt:        b.ConfirmedAt,
		PendingRevocation:  b.PendingRevocation,
	}
}

func (h *DirectoryHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed address"))
		return
	}
	b, err := h.svc.Get(r.Context(), addr)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toBindingResponse(b))
}

func (h *DirectoryHandler) handleReverseResolve(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetByNickname(r.Context(), chi.URLParam(r, "nickname"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toBindingResponse(b))
}

type versionResponse struct {
	Tag             string     `json:"tag"`
	ContractAddress string     `json:"contract_address"`
	IsAuthoritative bool       `json:"is_authoritative"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
}

func toVersionResponse(v directory.RegistryVersion) versionResponse {
	out := versionResponse{
		Tag:             v.Tag.String(),
		ContractAddress: v.ContractAddress.String(),
		IsAuthoritative: v.IsAuthoritative,
	}
	if !v.ActivatedAt.IsZero() {
		out.ActivatedAt = &v.ActivatedAt
	}
	return out
}

func (h *DirectoryHandler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.Versions(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]versionResponse, len(versions))
	for i, v := range versions {
		out[i] = toVersionResponse(v)
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"versions": out})
}

type activateVersionRequest struct {
	Tag             string `json:"tag"`
	ContractAddress string `json:"contract_address"`
}

func (h *DirectoryHandler) handleActivateVersion(w http.ResponseWriter, r *http.Request) {
	var req activateVersionRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	tag, err := domain.ParseVersionTag(req.Tag)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown version tag"))
		return
	}
	contract, err := domain.ParseAddress(req.ContractAddress)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed contract address"))
		return
	}

	activated, err := h.svc.ActivateVersion(r.Context(), tag, contract)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	// The sweep re-derives stale bindings from the new contract; it runs
	// detached so activation returns promptly.
	if h.sweeper != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := h.sweeper.SweepStale(ctx); err != nil {
				h.logger.Error("stale sweep after activation failed", "tag", activated.Tag, "error", err)
			}
		}()
	}

	shared.WriteJSON(w, http.StatusCreated, toVersionResponse(activated))
}

// Package reconciler keeps the off-chain directory cache converged with the
// authoritative resolver contract. It scans contract events for touched
// addresses, re-reads each from the chain and applies the result to the
// cache, resolving nickname conflicts in the chain's favor.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"namedir/internal/audit"
	"namedir/internal/directory"
	"namedir/internal/reconciler/metrics"
	"namedir/pkg/domain"
	dErrors "namedir/pkg/domain-errors"
	"namedir/pkg/normalize"
	"namedir/pkg/platform/sentinel"
)

var tracer = otel.Tracer("namedir/internal/reconciler")

// Resolver is the slice of the registry adapter the reconciler reads through.
type Resolver interface {
	ResolveAt(ctx context.Context, v directory.RegistryVersion, addr domain.Address) (domain.Nickname, error)
	BindingTopics(tag domain.VersionTag) ([]string, error)
}

// Directory is the slice of the directory service the reconciler writes
// through. Writes go through the service, never the store, so the derivation
// invariant is enforced on every reconciled binding.
type Directory interface {
	Get(ctx context.Context, addr domain.Address) (*directory.NicknameBinding, error)
	GetByNickname(ctx context.Context, rawNickname string) (*directory.NicknameBinding, error)
	Upsert(ctx context.Context, b *directory.NicknameBinding) error
	Revoke(ctx context.Context, addr domain.Address) error
	Authoritative(ctx context.Context) (directory.RegistryVersion, error)
	StaleBindings(ctx context.Context, current domain.VersionTag) ([]directory.NicknameBinding, error)
}

type Reconciler struct {
	resolver  Resolver
	directory Directory
	scanner   *Scanner
	auditor   *audit.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time

	interval    time.Duration
	parallelism int
	maxRetries  uint64

	lastSynced uint64
}

type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func WithAuditor(p *audit.Publisher) Option {
	return func(r *Reconciler) {
		r.auditor = p
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithParallelism bounds concurrent per-address reconciliations in one pass.
func WithParallelism(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithStartBlock sets the first block the scanner considers already
// processed. Zero means start from the head at first pass.
func WithStartBlock(block uint64) Option {
	return func(r *Reconciler) {
		r.lastSynced = block
	}
}

func New(resolver Resolver, dir Directory, scanner *Scanner, opts ...Option) (*Reconciler, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if dir == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	r := &Reconciler{
		resolver:    resolver,
		directory:   dir,
		scanner:     scanner,
		logger:      slog.Default(),
		clock:       time.Now,
		interval:    15 * time.Second,
		parallelism: 8,
		maxRetries:  5,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes passes at the configured interval until the context ends.
// A failed pass is logged and retried on the next tick; transient chain
// outages never terminate the loop.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Pass(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				r.logger.Warn("reconciliation pass failed", "error", err)
			}
		}
	}
}

// Pass scans new blocks and reconciles every touched address against the
// authoritative version snapshotted at pass start. A version activated
// mid-pass only affects the next pass.
func (r *Reconciler) Pass(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "reconciler.pass")
	defer span.End()
	start := r.clock()

	v, err := r.directory.Authoritative(ctx)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil
		}
		return err
	}
	span.SetAttributes(attribute.String("registry.version", string(v.Tag)))

	head, err := r.scanner.Head(ctx)
	if err != nil {
		return err
	}
	if r.lastSynced == 0 {
		// First pass: adopt the head and only track changes from here on.
		r.lastSynced = head
		r.metrics.RecordSync(r.lastSynced, head)
		return nil
	}
	if head <= r.lastSynced {
		r.metrics.RecordSync(r.lastSynced, head)
		return nil
	}

	topics, err := r.resolver.BindingTopics(v.Tag)
	if err != nil {
		return err
	}
	addrs, err := r.scanner.TouchedAddresses(ctx, v, topics, r.lastSynced+1, head)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("addresses.touched", len(addrs)))

	if err := r.reconcileAll(ctx, v, addrs); err != nil {
		return err
	}

	r.lastSynced = head
	r.metrics.RecordSync(r.lastSynced, head)
	r.metrics.RecordPass(time.Since(start).Seconds())
	return nil
}

// SweepStale re-derives every binding whose source version predates the
// current authoritative one. Called after a version activation.
func (r *Reconciler) SweepStale(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "reconciler.sweep_stale")
	defer span.End()

	v, err := r.directory.Authoritative(ctx)
	if err != nil {
		return err
	}
	stale, err := r.directory.StaleBindings(ctx, v.Tag)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("registry.version", string(v.Tag)),
		attribute.Int("bindings.stale", len(stale)),
	)

	addrs := make([]domain.Address, len(stale))
	for i, b := range stale {
		addrs[i] = b.Address
	}
	return r.reconcileAll(ctx, v, addrs)
}

func (r *Reconciler) reconcileAll(ctx context.Context, v directory.RegistryVersion, addrs []domain.Address) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, addr := range addrs {
		g.Go(func() error {
			return r.reconcileAddress(ctx, v, addr)
		})
	}
	return g.Wait()
}

// reconcileAddress converges one address. Chain reads retry with exponential
// backoff on transient outages; validation failures are terminal for the
// address and never retried.
func (r *Reconciler) reconcileAddress(ctx context.Context, v directory.RegistryVersion, addr domain.Address) error {
	var name domain.Nickname
	resolve := func() error {
		var err error
		name, err = r.resolver.ResolveAt(ctx, v, addr)
		if err != nil && !errors.Is(err, sentinel.ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)

	err := backoff.Retry(resolve, policy)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return r.applyRelease(ctx, v, addr)
	case err != nil:
		r.metrics.RecordOutcome("error")
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	return r.applyBinding(ctx, v, addr, name)
}

// applyRelease handles an address the contract no longer names.
func (r *Reconciler) applyRelease(ctx context.Context, v directory.RegistryVersion, addr domain.Address) error {
	cached, err := r.directory.Get(ctx, addr)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			r.metrics.RecordOutcome("unchanged")
			return nil
		}
		r.metrics.RecordOutcome("error")
		return err
	}
	if err := r.directory.Revoke(ctx, addr); err != nil {
		r.metrics.RecordOutcome("error")
		return err
	}
	r.metrics.RecordOutcome("revoked")
	r.auditor.Emit(ctx, audit.Event{
		Kind:     audit.KindBindingRevoked,
		Address:  addr.String(),
		Nickname: cached.Nickname.String(),
		Version:  v.Tag,
		Reason:   "released on chain",
	})
	return nil
}

// applyBinding writes the on-chain name into the cache. A nickname the
// normalizer rejects is recorded and skipped: the chain accepted it, the
// directory will not serve it.
func (r *Reconciler) applyBinding(ctx context.Context, v directory.RegistryVersion, addr domain.Address, raw domain.Nickname) error {
	nickname, err := domain.ParseNickname(raw.String())
	if err != nil {
		r.metrics.RecordOutcome("rejected")
		r.logger.Warn("on-chain nickname rejected", "address", addr, "error", err)
		return nil
	}

	cached, err := r.directory.Get(ctx, addr)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		r.metrics.RecordOutcome("error")
		return err
	}
	if cached != nil && cached.Nickname == nickname && cached.SourceVersion == v.Tag && !cached.PendingRevocation {
		r.metrics.RecordOutcome("unchanged")
		return nil
	}

	incoming := &directory.NicknameBinding{
		Address:       addr,
		Nickname:      nickname,
		SourceVersion: v.Tag,
		ConfirmedAt:   r.clock().UTC(),
	}
	err = r.directory.Upsert(ctx, incoming)
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		return r.resolveConflict(ctx, v, incoming)
	}
	if err != nil {
		r.metrics.RecordOutcome("error")
		return err
	}
	r.metrics.RecordOutcome("confirmed")
	r.auditor.Emit(ctx, audit.Event{
		Kind:     audit.KindBindingConfirmed,
		Address:  addr.String(),
		Nickname: nickname.String(),
		Version:  v.Tag,
	})
	return nil
}

// resolveConflict arbitrates two addresses claiming one normalized nickname.
// The chain is authoritative: the holder is re-read from the current
// contract, and if it no longer resolves to the contested name its cached
// binding lost to a stale read and is revoked in favor of the incoming one.
// If the holder still resolves to the name, the incoming claim is the stale
// side and is dropped.
func (r *Reconciler) resolveConflict(ctx context.Context, v directory.RegistryVersion, incoming *directory.NicknameBinding) error {
	holder, err := r.directory.GetByNickname(ctx, incoming.NicknameNormalized)
	if err != nil {
		// Holder revoked between the failed upsert and now: retry the write.
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			if err := r.directory.Upsert(ctx, incoming); err != nil {
				r.metrics.RecordOutcome("error")
				return err
			}
			r.metrics.RecordOutcome("confirmed")
			return nil
		}
		r.metrics.RecordOutcome("error")
		return err
	}

	current, err := r.resolver.ResolveAt(ctx, v, holder.Address)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		r.metrics.RecordOutcome("error")
		return fmt.Errorf("re-verify holder %s: %w", holder.Address, err)
	}
	if err == nil && normalize.Equal(current.String(), incoming.NicknameNormalized) {
		// Holder still owns the name on chain; the incoming read is stale.
		r.metrics.RecordConflict("incoming")
		r.metrics.RecordOutcome("conflict")
		r.auditor.Emit(ctx, audit.Event{
			Kind:     audit.KindConflictResolved,
			Address:  incoming.Address.String(),
			Nickname: incoming.Nickname.String(),
			Version:  v.Tag,
			Outcome:  "dropped",
			Reason:   "holder confirmed on chain",
		})
		return nil
	}

	if err := r.directory.Revoke(ctx, holder.Address); err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		r.metrics.RecordOutcome("error")
		return err
	}
	if err := r.directory.Upsert(ctx, incoming); err != nil {
		r.metrics.RecordOutcome("error")
		return err
	}
	r.metrics.RecordConflict("cache")
	r.metrics.RecordOutcome("conflict")
	r.auditor.Emit(ctx, audit.Event{
		Kind:     audit.KindConflictResolved,
		Address:  incoming.Address.String(),
		Nickname: incoming.Nickname.String(),
		Version:  v.Tag,
		Outcome:  "replaced",
		Reason:   fmt.Sprintf("previous holder %s released on chain", holder.Address),
	})
	return nil
}

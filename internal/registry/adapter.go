// Package registry adapts the resolver contract's successive on-chain
// interfaces (V1 legacy, V2, V3 current) into one canonical operation set, so
// version branching stays out of the rest of the codebase.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"namedir/internal/chain"
	"namedir/internal/directory"
	"namedir/pkg/domain"
	"namedir/pkg/platform/sentinel"
)

// VersionSource supplies the recorded contract deployments. The directory
// store satisfies it; the adapter itself owns no persistent state and is safe
// to reconstruct per call.
type VersionSource interface {
	Authoritative(ctx context.Context) (directory.RegistryVersion, error)
	Versions(ctx context.Context) ([]directory.RegistryVersion, error)
}

// TxReceipt reports a submitted key-rotation transaction.
type TxReceipt struct {
	TxHash      string
	Version     domain.VersionTag
	SubmittedAt time.Time
}

// Adapter is the uniform interface over all resolver contract versions.
//
// Error contract: sentinel.ErrUnavailable for RPC failure (retryable),
// sentinel.ErrStaleVersion for writes against a non-authoritative version,
// sentinel.ErrNotFound when no binding or key exists.
type Adapter struct {
	client   chain.Client
	versions VersionSource
	logger   *slog.Logger
	timeout  time.Duration
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithCallTimeout bounds each individual RPC; retries are the caller's
// policy, the per-call deadline is the adapter's.
func WithCallTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func New(client chain.Client, versions VersionSource, opts ...Option) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if versions == nil {
		return nil, fmt.Errorf("version source is required")
	}
	a := &Adapter{
		client:   client,
		versions: versions,
		logger:   slog.Default(),
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Resolve returns the nickname bound to addr on the authoritative contract.
func (a *Adapter) Resolve(ctx context.Context, addr domain.Address) (domain.Nickname, error) {
	v, err := a.authoritative(ctx)
	if err != nil {
		return "", err
	}
	return a.ResolveAt(ctx, v, addr)
}

// ResolveAt reads a specific contract generation. The reconciler passes its
// pass-start snapshot here; historical reads pass an archived version.
func (a *Adapter) ResolveAt(ctx context.Context, v directory.RegistryVersion, addr domain.Address) (domain.Nickname, error) {
	c, err := codecFor(v.Tag)
	if err != nil {
		return "", err
	}
	out, err := a.call(ctx, v.ContractAddress, c.encodeResolve(addr))
	if err != nil {
		return "", err
	}
	name, err := c.decodeResolve(out)
	if err != nil {
		return "", fmt.Errorf("decode resolve (%s): %w", v.Tag, err)
	}
	if name == "" {
		return "", sentinel.ErrNotFound
	}
	return domain.Nickname(name), nil
}

// ReverseResolve returns the address bound to a normalized nickname on the
// authoritative contract. V1 never had a reverse index, so a V1-only lookup
// reports not found rather than guessing.
func (a *Adapter) ReverseResolve(ctx context.Context, normalized string) (domain.Address, error) {
	v, err := a.authoritative(ctx)
	if err != nil {
		return domain.Address{}, err
	}
	c, err := codecFor(v.Tag)
	if err != nil {
		return domain.Address{}, err
	}
	data, err := c.encodeReverseResolve(normalized)
	if err != nil {
		if errors.Is(err, errUnsupported) {
			return domain.Address{}, sentinel.ErrNotFound
		}
		return domain.Address{}, err
	}
	out, err := a.call(ctx, v.ContractAddress, data)
	if err != nil {
		return domain.Address{}, err
	}
	addr, err := c.decodeReverseResolve(out)
	if err != nil {
		return domain.Address{}, fmt.Errorf("decode reverse resolve (%s): %w", v.Tag, err)
	}
	if addr.IsZero() {
		return domain.Address{}, sentinel.ErrNotFound
	}
	return addr, nil
}

// RecoveryKey returns the registered recovery public key for addr. Always
// reads the authoritative contract directly: authorization decisions cannot
// tolerate cache staleness.
func (a *Adapter) RecoveryKey(ctx context.Context, addr domain.Address) ([]byte, error) {
	v, err := a.authoritative(ctx)
	if err != nil {
		return nil, err
	}
	c, err := codecFor(v.Tag)
	if err != nil {
		return nil, err
	}
	data, err := c.encodeRecoveryKey(addr)
	if err != nil {
		if errors.Is(err, errUnsupported) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	out, err := a.call(ctx, v.ContractAddress, data)
	if err != nil {
		return nil, err
	}
	key, err := c.decodeRecoveryKey(out)
	if err != nil {
		return nil, fmt.Errorf("decode recovery key (%s): %w", v.Tag, err)
	}
	if allZero(key) {
		return nil, sentinel.ErrNotFound
	}
	return key, nil
}

// SubmitKeyRotation relays an authorized key rotation to the contract the
// caller snapshotted. The snapshot is re-checked against the current
// authoritative version so a concurrent upgrade cannot route a write to an
// archived contract.
func (a *Adapter) SubmitKeyRotation(ctx context.Context, v directory.RegistryVersion, addr domain.Address, newKey, proof []byte) (TxReceipt, error) {
	if !v.IsAuthoritative {
		return TxReceipt{}, fmt.Errorf("submit key rotation: %w", sentinel.ErrStaleVersion)
	}
	current, err := a.authoritative(ctx)
	if err != nil {
		return TxReceipt{}, err
	}
	if current.Tag != v.Tag {
		return TxReceipt{}, fmt.Errorf("submit key rotation against %s, authoritative is %s: %w",
			v.Tag, current.Tag, sentinel.ErrStaleVersion)
	}

	c, err := codecFor(v.Tag)
	if err != nil {
		return TxReceipt{}, err
	}
	data, err := c.encodeRotateKey(addr, newKey, proof)
	if err != nil {
		return TxReceipt{}, fmt.Errorf("encode rotate key (%s): %w", v.Tag, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	hash, err := a.client.Send(callCtx, v.ContractAddress, data)
	if err != nil {
		return TxReceipt{}, err
	}

	a.logger.Info("key rotation submitted", "address", addr, "version", v.Tag, "tx", hash)
	return TxReceipt{TxHash: hash, Version: v.Tag, SubmittedAt: time.Now().UTC()}, nil
}

// BindingTopics returns the event topics announcing nickname changes on the
// given generation, for the reconciler's log scanner.
func (a *Adapter) BindingTopics(tag domain.VersionTag) ([]string, error) {
	c, err := codecFor(tag)
	if err != nil {
		return nil, err
	}
	return c.bindingChangedTopics(), nil
}

func (a *Adapter) authoritative(ctx context.Context) (directory.RegistryVersion, error) {
	v, err := a.versions.Authoritative(ctx)
	if err != nil {
		return directory.RegistryVersion{}, fmt.Errorf("no authoritative version: %w", err)
	}
	return v, nil
}

func (a *Adapter) call(ctx context.Context, to domain.Address, data []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.client.Call(callCtx, to, data)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

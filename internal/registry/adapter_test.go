package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"namedir/internal/chain"
	"namedir/internal/directory"
	"namedir/internal/directory/store/memory"
	"namedir/pkg/domain"
	"namedir/pkg/platform/sentinel"
)

// fakeChain scripts RPC responses keyed by the 4-byte selector of the call
// data, which keeps version dispatch observable without a node.
type fakeChain struct {
	replies   map[string][]byte
	callErr   error
	sendErr   error
	sentTo    []domain.Address
	lastData  []byte
	sendCount int
}

func (f *fakeChain) Call(_ context.Context, _ domain.Address, data []byte) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	f.lastData = data
	key := fmt.Sprintf("%x", data[:4])
	out, ok := f.replies[key]
	if !ok {
		return nil, fmt.Errorf("unscripted call %s", key)
	}
	return out, nil
}

func (f *fakeChain) Send(_ context.Context, to domain.Address, data []byte) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sendCount++
	f.sentTo = append(f.sentTo, to)
	f.lastData = data
	return "0xtxhash", nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return 100, nil }

func (f *fakeChain) Logs(context.Context, chain.FilterQuery) ([]chain.Log, error) {
	return nil, nil
}

func sel(sig string) string {
	return fmt.Sprintf("%x", selector(sig))
}

// stringReturn encodes a dynamic string return value.
func stringReturn(s string) []byte {
	return append(encodeUintWord(wordSize), encodeDynamicBytes([]byte(s))...)
}

type AdapterSuite struct {
	suite.Suite
	chain *fakeChain
	store *memory.Store
}

func TestAdapterSuite(t *testing.T) {
	suite.Run(t, new(AdapterSuite))
}

func (s *AdapterSuite) SetupTest() {
	s.chain = &fakeChain{replies: map[string][]byte{}}
	s.store = memory.New()
}

func (s *AdapterSuite) contract(n byte) domain.Address {
	var a domain.Address
	a[0] = 0xc0
	a[19] = n
	return a
}

func (s *AdapterSuite) account(n byte) domain.Address {
	var a domain.Address
	a[19] = n
	return a
}

func (s *AdapterSuite) activate(tag domain.VersionTag, contract domain.Address) directory.RegistryVersion {
	ctx := context.Background()
	s.Require().NoError(s.store.PutVersion(ctx, directory.RegistryVersion{Tag: tag, ContractAddress: contract}))
	s.Require().NoError(s.store.SetAuthoritative(ctx, tag))
	v, err := s.store.Authoritative(ctx)
	s.Require().NoError(err)
	return v
}

func (s *AdapterSuite) newAdapter() *Adapter {
	a, err := New(s.chain, s.store)
	s.Require().NoError(err)
	return a
}

func (s *AdapterSuite) TestResolveDispatchesByVersion() {
	ctx := context.Background()

	s.Run("v3 resolves dynamic string names", func() {
		s.activate(domain.VersionV3, s.contract(3))
		s.chain.replies[sel("resolve(address)")] = stringReturn("Neo")

		name, err := s.newAdapter().Resolve(ctx, s.account(1))
		s.Require().NoError(err)
		s.Equal(domain.Nickname("Neo"), name)
	})

	s.Run("v1 resolves fixed bytes32 names", func() {
		v1 := directory.RegistryVersion{Tag: domain.VersionV1, ContractAddress: s.contract(1)}
		word := make([]byte, wordSize)
		copy(word, "morpheus")
		s.chain.replies[sel("nameOf(address)")] = word

		name, err := s.newAdapter().ResolveAt(ctx, v1, s.account(1))
		s.Require().NoError(err)
		s.Equal(domain.Nickname("morpheus"), name)
	})

	s.Run("empty name reports not found", func() {
		s.activate(domain.VersionV3, s.contract(3))
		s.chain.replies[sel("resolve(address)")] = stringReturn("")

		_, err := s.newAdapter().Resolve(ctx, s.account(2))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *AdapterSuite) TestReverseResolve() {
	ctx := context.Background()

	s.Run("v3 returns the bound address", func() {
		s.activate(domain.VersionV3, s.contract(3))
		s.chain.replies[sel("reverseResolve(string)")] = encodeAddressWord(s.account(7))

		addr, err := s.newAdapter().ReverseResolve(ctx, "neo")
		s.Require().NoError(err)
		s.Equal(s.account(7), addr)
	})

	s.Run("zero address reports not found", func() {
		s.activate(domain.VersionV3, s.contract(3))
		s.chain.replies[sel("reverseResolve(string)")] = make([]byte, wordSize)

		_, err := s.newAdapter().ReverseResolve(ctx, "nobody")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("v1 has no reverse index", func() {
		s.activate(domain.VersionV1, s.contract(1))

		_, err := s.newAdapter().ReverseResolve(ctx, "neo")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *AdapterSuite) TestRecoveryKey() {
	ctx := context.Background()

	s.Run("v3 returns variable-length keys", func() {
		s.activate(domain.VersionV3, s.contract(3))
		key := []byte{1, 2, 3, 4}
		s.chain.replies[sel("recoveryKeyOf(address)")] = append(encodeUintWord(wordSize), encodeDynamicBytes(key)...)

		got, err := s.newAdapter().RecoveryKey(ctx, s.account(1))
		s.Require().NoError(err)
		s.Equal(key, got)
	})

	s.Run("all-zero key means none registered", func() {
		s.activate(domain.VersionV2, s.contract(2))
		s.chain.replies[sel("recoveryKeyOf(address)")] = make([]byte, wordSize)

		_, err := s.newAdapter().RecoveryKey(ctx, s.account(1))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("chain failure stays retryable", func() {
		s.activate(domain.VersionV3, s.contract(3))
		s.chain.callErr = fmt.Errorf("eth_call: %w: connection refused", sentinel.ErrUnavailable)

		_, err := s.newAdapter().RecoveryKey(ctx, s.account(1))
		s.ErrorIs(err, sentinel.ErrUnavailable)
	})
}

func (s *AdapterSuite) TestSubmitKeyRotation() {
	ctx := context.Background()

	// SetupTest runs once per test method, so each subtest rebuilds the
	// fixtures itself to keep send counts and version sets isolated.
	s.Run("relays to the authoritative contract", func() {
		s.SetupTest()
		v := s.activate(domain.VersionV3, s.contract(3))

		receipt, err := s.newAdapter().SubmitKeyRotation(ctx, v, s.account(1), []byte{1}, []byte{2})
		s.Require().NoError(err)
		s.Equal("0xtxhash", receipt.TxHash)
		s.Equal(domain.VersionV3, receipt.Version)
		s.Equal([]domain.Address{s.contract(3)}, s.chain.sentTo)
		s.Equal(1, s.chain.sendCount)
	})

	s.Run("rejects a non-authoritative snapshot", func() {
		s.SetupTest()
		s.activate(domain.VersionV3, s.contract(3))
		archived := directory.RegistryVersion{Tag: domain.VersionV2, ContractAddress: s.contract(2)}

		_, err := s.newAdapter().SubmitKeyRotation(ctx, archived, s.account(1), []byte{1}, []byte{2})
		s.ErrorIs(err, sentinel.ErrStaleVersion)
		s.Zero(s.chain.sendCount)
	})

	s.Run("rejects a snapshot demoted since capture", func() {
		s.SetupTest()
		v2 := s.activate(domain.VersionV2, s.contract(2))
		s.activate(domain.VersionV3, s.contract(3))

		_, err := s.newAdapter().SubmitKeyRotation(ctx, v2, s.account(1), []byte{1}, []byte{2})
		s.ErrorIs(err, sentinel.ErrStaleVersion)
		s.Zero(s.chain.sendCount)
	})

	s.Run("v2 cannot rotate keys", func() {
		s.SetupTest()
		v := s.activate(domain.VersionV2, s.contract(2))

		_, err := s.newAdapter().SubmitKeyRotation(ctx, v, s.account(1), []byte{1}, []byte{2})
		s.ErrorIs(err, errUnsupported)
	})
}

func (s *AdapterSuite) TestNoAuthoritativeVersion() {
	_, err := s.newAdapter().Resolve(context.Background(), s.account(1))
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"namedir/internal/directory"
	"namedir/pkg/domain"
	"namedir/pkg/normalize"
	"namedir/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *Store
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = New()
}

func addr(n byte) domain.Address {
	var a domain.Address
	a[19] = n
	return a
}

func binding(a domain.Address, name string, tag domain.VersionTag, confirmed time.Time) *directory.NicknameBinding {
	return &directory.NicknameBinding{
		Address:            a,
		Nickname:           domain.Nickname(name),
		NicknameNormalized: normalize.Normalize(name),
		SourceVersion:      tag,
		ConfirmedAt:        confirmed,
	}
}

func (s *MemoryStoreSuite) TestUpsertAndLookup() {
	ctx := context.Background()
	now := time.Now()

	s.Run("round-trips through both indexes", func() {
		b := binding(addr(1), "Neo", domain.VersionV3, now)
		s.Require().NoError(s.store.Upsert(ctx, b))

		got, err := s.store.Get(ctx, addr(1))
		s.Require().NoError(err)
		s.Equal(domain.Nickname("Neo"), got.Nickname)

		got, err = s.store.GetByNickname(ctx, "neo")
		s.Require().NoError(err)
		s.Equal(addr(1), got.Address)
	})

	s.Run("missing address is not found", func() {
		_, err := s.store.Get(ctx, addr(99))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rename releases the old normalized form", func() {
		s.Require().NoError(s.store.Upsert(ctx, binding(addr(2), "Morpheus", domain.VersionV3, now)))
		s.Require().NoError(s.store.Upsert(ctx, binding(addr(2), "Oracle", domain.VersionV3, now)))

		_, err := s.store.GetByNickname(ctx, "morpheus")
		s.ErrorIs(err, sentinel.ErrNotFound)

		// The released form is claimable by another address.
		s.NoError(s.store.Upsert(ctx, binding(addr(3), "Morpheus", domain.VersionV3, now)))
	})
}

func (s *MemoryStoreSuite) TestUpsertConflict() {
	ctx := context.Background()
	now := time.Now()

	s.Require().NoError(s.store.Upsert(ctx, binding(addr(1), "Neo", domain.VersionV2, now)))

	s.Run("different address and equal normalized form conflicts", func() {
		err := s.store.Upsert(ctx, binding(addr(2), "NEO", domain.VersionV3, now.Add(time.Second)))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("same address re-upsert is not a conflict", func() {
		err := s.store.Upsert(ctx, binding(addr(1), "NEO", domain.VersionV3, now.Add(time.Second)))
		s.NoError(err)
	})

	s.Run("revoked loser frees the form", func() {
		s.Require().NoError(s.store.Revoke(ctx, addr(1)))
		s.NoError(s.store.Upsert(ctx, binding(addr(2), "neo", domain.VersionV3, now.Add(2*time.Second))))
	})
}

func (s *MemoryStoreSuite) TestRevoke() {
	ctx := context.Background()
	b := binding(addr(1), "Neo", domain.VersionV3, time.Now())
	s.Require().NoError(s.store.Upsert(ctx, b))

	s.Require().NoError(s.store.Revoke(ctx, addr(1)))

	_, err := s.store.Get(ctx, addr(1))
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.GetByNickname(ctx, "neo")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Run("double revoke is not found", func() {
		s.ErrorIs(s.store.Revoke(ctx, addr(1)), sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestListStale() {
	ctx := context.Background()
	now := time.Now()
	s.Require().NoError(s.store.Upsert(ctx, binding(addr(1), "one", domain.VersionV1, now)))
	s.Require().NoError(s.store.Upsert(ctx, binding(addr(2), "two", domain.VersionV2, now)))
	s.Require().NoError(s.store.Upsert(ctx, binding(addr(3), "three", domain.VersionV3, now)))

	stale, err := s.store.ListStale(ctx, domain.VersionV3)
	s.Require().NoError(err)
	s.Len(stale, 2)
	s.Equal(domain.VersionTag(domain.VersionV1), stale[0].SourceVersion)
	s.Equal(domain.VersionTag(domain.VersionV2), stale[1].SourceVersion)
}

func (s *MemoryStoreSuite) TestVersionSet() {
	ctx := context.Background()

	v1 := directory.RegistryVersion{Tag: domain.VersionV1, ContractAddress: addr(101)}
	v2 := directory.RegistryVersion{Tag: domain.VersionV2, ContractAddress: addr(102)}

	s.Require().NoError(s.store.PutVersion(ctx, v1))
	s.Require().NoError(s.store.PutVersion(ctx, v2))

	s.Run("exactly one authoritative version", func() {
		s.Require().NoError(s.store.SetAuthoritative(ctx, domain.VersionV1))
		s.Require().NoError(s.store.SetAuthoritative(ctx, domain.VersionV2))

		auth, err := s.store.Authoritative(ctx)
		s.Require().NoError(err)
		s.Equal(domain.VersionTag(domain.VersionV2), auth.Tag)

		versions, err := s.store.Versions(ctx)
		s.Require().NoError(err)
		count := 0
		for _, v := range versions {
			if v.IsAuthoritative {
				count++
			}
		}
		s.Equal(1, count)
	})

	s.Run("append-only rejects address rewrites", func() {
		err := s.store.PutVersion(ctx, directory.RegistryVersion{Tag: domain.VersionV1, ContractAddress: addr(200)})
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("unknown tag cannot become authoritative", func() {
		s.ErrorIs(s.store.SetAuthoritative(ctx, domain.VersionV3), sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestConcurrentUpsertSameNormalizedForm() {
	ctx := context.Background()
	now := time.Now()

	const goroutines = 16
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.store.Upsert(ctx, binding(addr(byte(i+1)), "NEO", domain.VersionV3, now))
		}(i)
	}
	wg.Wait()
	close(errs)

	wins, conflicts := 0, 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		s.ErrorIs(err, sentinel.ErrConflict)
		conflicts++
	}
	s.Equal(1, wins, "exactly one writer may claim a normalized form")
	s.Equal(goroutines-1, conflicts)
}

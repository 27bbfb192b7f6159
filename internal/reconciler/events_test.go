package reconciler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"namedir/internal/chain"
	"namedir/internal/directory"
	"namedir/pkg/domain"
)

func TestAddressesOf(t *testing.T) {
	var neo domain.Address
	neo[19] = 1

	t.Run("extracts padded address topics", func(t *testing.T) {
		l := eventLog(1, neo)
		assert.Equal(t, []domain.Address{neo}, addressesOf(l))
	})

	t.Run("skips hashed string topics", func(t *testing.T) {
		l := chain.Log{Topics: []string{
			"0x" + strings.Repeat("ab", 32),
			"0x" + strings.Repeat("cd", 32), // keccak of an indexed string
		}}
		assert.Empty(t, addressesOf(l))
	})

	t.Run("skips zero address and malformed topics", func(t *testing.T) {
		l := chain.Log{Topics: []string{
			"0x" + strings.Repeat("ab", 32),
			"0x" + strings.Repeat("00", 32),
			"0xnothex",
		}}
		assert.Empty(t, addressesOf(l))
	})

	t.Run("signature-only log yields nothing", func(t *testing.T) {
		l := chain.Log{Topics: []string{"0x" + strings.Repeat("ab", 32)}}
		assert.Empty(t, addressesOf(l))
	})
}

// rangeRecorder counts how the scanner chunks wide block ranges.
type rangeRecorder struct {
	fakeNode
	ranges [][2]uint64
}

func (r *rangeRecorder) Logs(ctx context.Context, q chain.FilterQuery) ([]chain.Log, error) {
	r.ranges = append(r.ranges, [2]uint64{q.FromBlock, q.ToBlock})
	return r.fakeNode.Logs(ctx, q)
}

func TestScannerChunksWideRanges(t *testing.T) {
	node := &rangeRecorder{}
	sc := NewScanner(node)
	sc.maxRange = 100

	v := directory.RegistryVersion{Tag: domain.VersionV3}
	_, err := sc.TouchedAddresses(context.Background(), v, nil, 1, 250)
	require.NoError(t, err)

	assert.Equal(t, [][2]uint64{{1, 100}, {101, 200}, {201, 250}}, node.ranges)
}

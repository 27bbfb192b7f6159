package reconciler

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"namedir/internal/chain"
	"namedir/internal/directory"
	"namedir/pkg/domain"
)

// defaultMaxBlockRange caps one eth_getLogs span; public endpoints commonly
// reject wider filters.
const defaultMaxBlockRange = 2000

// Scanner extracts the set of addresses touched by resolver events in a block
// range, so the reconciler only re-reads accounts that actually changed.
type Scanner struct {
	client   chain.Client
	maxRange uint64
}

func NewScanner(client chain.Client) *Scanner {
	return &Scanner{client: client, maxRange: defaultMaxBlockRange}
}

// Head returns the current chain head.
func (s *Scanner) Head(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

// TouchedAddresses scans [from, to] on the version's contract for the given
// event signatures and returns the distinct addresses those events reference.
func (s *Scanner) TouchedAddresses(ctx context.Context, v directory.RegistryVersion, topics []string, from, to uint64) ([]domain.Address, error) {
	seen := make(map[domain.Address]struct{})
	var out []domain.Address

	for start := from; start <= to; start += s.maxRange {
		end := start + s.maxRange - 1
		if end > to {
			end = to
		}
		logs, err := s.client.Logs(ctx, chain.FilterQuery{
			FromBlock: start,
			ToBlock:   end,
			Address:   v.ContractAddress,
			Topics:    [][]string{topics},
		})
		if err != nil {
			return nil, fmt.Errorf("scan blocks %d-%d: %w", start, end, err)
		}
		for _, l := range logs {
			for _, addr := range addressesOf(l) {
				if _, ok := seen[addr]; ok {
					continue
				}
				seen[addr] = struct{}{}
				out = append(out, addr)
			}
		}
	}
	return out, nil
}

// addressesOf extracts indexed address arguments from a log. All resolver
// events index their address parameters, which arrive as left-padded 32-byte
// topics; anything else in the topic list (hashed indexed strings) has a
// non-zero prefix and is skipped.
func addressesOf(l chain.Log) []domain.Address {
	if len(l.Topics) < 2 {
		return nil
	}
	var out []domain.Address
	for _, t := range l.Topics[1:] {
		raw, err := hex.DecodeString(strings.TrimPrefix(t, "0x"))
		if err != nil || len(raw) != 32 {
			continue
		}
		if !allZeroBytes(raw[:12]) {
			continue
		}
		var addr domain.Address
		copy(addr[:], raw[12:])
		if !addr.IsZero() {
			out = append(out, addr)
		}
	}
	return out
}

func allZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Package chain provides the JSON-RPC client the registry adapter calls
// through. It is deliberately thin: ABI encoding and version dispatch belong
// to the adapter, transport and error classification belong here.
package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/powerman/rpc-codec/jsonrpc2"

	"namedir/pkg/domain"
	"namedir/pkg/platform/sentinel"
)

// Client is the RPC surface the registry adapter and reconciler depend on.
// Implementations must classify transport failures as sentinel.ErrUnavailable
// so callers can retry with backoff without string matching.
type Client interface {
	// Call executes a read-only contract call and returns the raw return data.
	Call(ctx context.Context, to domain.Address, data []byte) ([]byte, error)

	// Send relays a state-changing call through the node's managed relayer
	// account and returns the transaction hash.
	Send(ctx context.Context, to domain.Address, data []byte) (string, error)

	// BlockNumber returns the current head block.
	BlockNumber(ctx context.Context) (uint64, error)

	// Logs returns contract logs for the given filter.
	Logs(ctx context.Context, q FilterQuery) ([]Log, error)
}

// FilterQuery selects logs from one contract over a block range. Topics is
// positional: Topics[i] lists the 32-byte hex values accepted at position i,
// a nil entry matches anything in that position.
type FilterQuery struct {
	FromBlock uint64
	ToBlock   uint64
	Address   domain.Address
	Topics    [][]string
}

// Log is one contract event as returned by eth_getLogs, hex fields undecoded.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
}

// Block returns the log's block number as an integer.
func (l Log) Block() (uint64, error) {
	return parseHexUint(l.BlockNumber)
}

// RPCClient talks JSON-RPC 2.0 over HTTP to a node endpoint.
type RPCClient struct {
	rpc *jsonrpc2.Client
}

// Dial connects to a node RPC endpoint.
func Dial(url string) *RPCClient {
	return &RPCClient{rpc: jsonrpc2.NewHTTPClient(url)}
}

func (c *RPCClient) Call(ctx context.Context, to domain.Address, data []byte) ([]byte, error) {
	params := []any{
		map[string]string{
			"to":   to.String(),
			"data": "0x" + hex.EncodeToString(data),
		},
		"latest",
	}
	var reply string
	if err := c.call(ctx, "eth_call", params, &reply); err != nil {
		return nil, err
	}
	out, err := hex.DecodeString(strings.TrimPrefix(reply, "0x"))
	if err != nil {
		return nil, fmt.Errorf("malformed call result: %w", err)
	}
	return out, nil
}

func (c *RPCClient) Send(ctx context.Context, to domain.Address, data []byte) (string, error) {
	params := []any{
		map[string]string{
			"to":   to.String(),
			"data": "0x" + hex.EncodeToString(data),
		},
	}
	var hash string
	if err := c.call(ctx, "eth_sendTransaction", params, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var reply string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &reply); err != nil {
		return 0, err
	}
	return parseHexUint(reply)
}

func (c *RPCClient) Logs(ctx context.Context, q FilterQuery) ([]Log, error) {
	filter := map[string]any{
		"fromBlock": hexUint(q.FromBlock),
		"toBlock":   hexUint(q.ToBlock),
		"address":   q.Address.String(),
	}
	if len(q.Topics) > 0 {
		filter["topics"] = q.Topics
	}
	var logs []Log
	if err := c.call(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// call runs the blocking RPC in a goroutine so the context deadline is
// honored even though the underlying codec has no context support.
func (c *RPCClient) call(ctx context.Context, method string, params, reply any) error {
	done := make(chan error, 1)
	go func() {
		done <- c.rpc.Call(method, params, reply)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w: %w", method, sentinel.ErrUnavailable, ctx.Err())
	case err := <-done:
		if err != nil {
			return classify(method, err)
		}
		return nil
	}
}

// classify separates node-side RPC errors (surfaced as-is; the adapter
// interprets them) from transport failures, which are retryable and wrap
// sentinel.ErrUnavailable.
func classify(method string, err error) error {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: node error %d: %s", method, rpcErr.Code, rpcErr.Message)
	}
	// Connection refused, timeouts, closed pipes and codec shutdowns land here.
	return fmt.Errorf("%s: %w: %w", method, sentinel.ErrUnavailable, err)
}

func hexUint(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

func parseHexUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed hex quantity %q: %w", s, err)
	}
	return v, nil
}

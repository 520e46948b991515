// Copyright 2025 Certen Protocol
//
// Package chaingateway provides typed, resilient access to an EVM chain:
// WebSocket log/header subscriptions that re-subscribe transparently on
// transport loss, and HTTP contract calls wrapped in the shared retry
// helper.
package chaingateway

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/lz-dvn-executor/pkg/metrics"
	"github.com/certen/lz-dvn-executor/pkg/retry"
)

const (
	// DefaultMaxAttempts is the per-call retry budget.
	DefaultMaxAttempts = 10
	// DefaultBackoff is the fixed delay between retried calls.
	DefaultBackoff = 300 * time.Millisecond
	// DefaultCallTimeout brackets any single external call.
	DefaultCallTimeout = 10 * time.Second
	// DefaultLogBufferSize bounds a log subscription's output channel.
	DefaultLogBufferSize = 100
)

// Gateway is a typed, resilient handle to one EVM chain, reachable over both
// a WebSocket endpoint (for subscriptions) and an HTTP endpoint (for calls
// and transactions).
type Gateway struct {
	wsURL   string
	httpURL string

	ws   *ethclient.Client
	http *ethclient.Client

	chainID *big.Int
	signer  *transactSigner

	MaxAttempts int
	Backoff     time.Duration
	CallTimeout time.Duration

	pendingPrivateKey string
	logger            *log.Logger
	metrics           *metrics.Registry // nil-safe: unset in tests
}

// WithMetrics attaches a metrics.Registry the Gateway will report buffer
// drops and resubscribes to.
func WithMetrics(m *metrics.Registry) Option {
	return func(g *Gateway) { g.metrics = m }
}

type transactSigner struct {
	opts *bind.TransactOpts
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithPrivateKey configures the Gateway to sign transactions (verify,
// lzReceive) with the given hex-encoded ECDSA private key.
func WithPrivateKey(hexKey string) Option {
	return func(g *Gateway) {
		g.pendingPrivateKey = hexKey
	}
}

// WithLogger overrides the Gateway's logger.
func WithLogger(logger *log.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithRetryPolicy overrides the default retry attempts/backoff/timeout.
func WithRetryPolicy(maxAttempts int, backoff, callTimeout time.Duration) Option {
	return func(g *Gateway) {
		g.MaxAttempts = maxAttempts
		g.Backoff = backoff
		g.CallTimeout = callTimeout
	}
}

// Dial connects to both the WebSocket and HTTP endpoints and returns a
// ready-to-use Gateway.
func Dial(ctx context.Context, wsURL, httpURL string, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		wsURL:       wsURL,
		httpURL:     httpURL,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		CallTimeout: DefaultCallTimeout,
		logger:      log.New(log.Writer(), "[chaingateway] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(g)
	}

	httpClient, err := ethclient.DialContext(ctx, httpURL)
	if err != nil {
		return nil, fmt.Errorf("chaingateway: failed to dial HTTP endpoint %q: %w", httpURL, err)
	}
	g.http = httpClient

	wsClient, err := ethclient.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("chaingateway: failed to dial WebSocket endpoint %q: %w", wsURL, err)
	}
	g.ws = wsClient

	chainID, err := httpClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chaingateway: failed to fetch chain id: %w", err)
	}
	g.chainID = chainID

	if g.pendingPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(g.pendingPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("chaingateway: invalid private key: %w", err)
		}
		txOpts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("chaingateway: failed to create transactor: %w", err)
		}
		g.signer = &transactSigner{opts: txOpts}
	}

	return g, nil
}

// Close releases the underlying RPC connections.
func (g *Gateway) Close() {
	if g.ws != nil {
		g.ws.Close()
	}
	if g.http != nil {
		g.http.Close()
	}
}

// ChainID returns the chain ID discovered at Dial time.
func (g *Gateway) ChainID() *big.Int { return g.chainID }

// Call performs a single read-only contract call, retried per the shared
// retry policy on transport or transient revert errors.
func (g *Gateway) Call(ctx context.Context, contractAddr common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	callData, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chaingateway: failed to pack %s: %w", method, err)
	}

	var result []byte
	err = retry.Do(ctx, g.MaxAttempts, g.Backoff, isRetryable, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.CallTimeout)
		defer cancel()

		out, callErr := g.http.CallContract(callCtx, ethereum.CallMsg{To: &contractAddr, Data: callData}, nil)
		if callErr != nil {
			return classify(callErr)
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	outputs, err := parsed.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("chaingateway: failed to unpack %s result: %w", method, err)
	}
	return outputs, nil
}

// Send packs and submits a state-changing transaction, retried per the
// shared retry policy, and waits for it to be mined.
func (g *Gateway) Send(ctx context.Context, contractAddr common.Address, parsed abi.ABI, method string, args ...interface{}) (*types.Receipt, error) {
	if g.signer == nil {
		return nil, fmt.Errorf("chaingateway: no private key configured, cannot send %s", method)
	}

	callData, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chaingateway: failed to pack %s: %w", method, err)
	}

	var receipt *types.Receipt
	err = retry.Do(ctx, g.MaxAttempts, g.Backoff, isRetryable, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.CallTimeout)
		defer cancel()

		from := g.signer.opts.From
		nonce, nerr := g.http.PendingNonceAt(callCtx, from)
		if nerr != nil {
			return classify(nerr)
		}
		gasPrice, gerr := g.http.SuggestGasPrice(callCtx)
		if gerr != nil {
			return classify(gerr)
		}

		tx := types.NewTransaction(nonce, contractAddr, big.NewInt(0), 1_000_000, gasPrice, callData)
		signedTx, serr := g.signer.opts.Signer(from, tx)
		if serr != nil {
			return fmt.Errorf("chaingateway: failed to sign %s transaction: %w", method, serr)
		}
		if serr = g.http.SendTransaction(callCtx, signedTx); serr != nil {
			return classify(serr)
		}

		rcpt, werr := bind.WaitMined(callCtx, g.http, signedTx)
		if werr != nil {
			return classify(werr)
		}
		receipt = rcpt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// SubscribeLogs opens a log subscription filtered by address and event
// signature, re-subscribing transparently (from the latest block) whenever
// the underlying transport drops. Ordering within one subscription period is
// source-chain order; duplicates across reconnects are possible, so
// consumers must be idempotent.
func (g *Gateway) SubscribeLogs(ctx context.Context, address common.Address, topic common.Hash) (<-chan types.Log, error) {
	out := make(chan types.Log, DefaultLogBufferSize)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := g.runLogSubscription(ctx, address, topic, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				g.logger.Printf("log subscription for %s dropped, re-subscribing: %v", address.Hex(), err)
				select {
				case <-time.After(g.Backoff):
				case <-ctx.Done():
					return
				}
				if g.metrics != nil {
					g.metrics.Resubscribes.WithLabelValues("logs").Inc()
				}
			}
		}
	}()

	return out, nil
}

func (g *Gateway) runLogSubscription(ctx context.Context, address common.Address, topic common.Hash, out chan types.Log) error {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic}},
	}

	rawLogs := make(chan types.Log, DefaultLogBufferSize)
	sub, err := g.ws.SubscribeFilterLogs(ctx, query, rawLogs)
	if err != nil {
		return fmt.Errorf("subscribe_logs: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case logEntry := <-rawLogs:
			select {
			case out <- logEntry:
			default:
				g.logger.Printf("log channel full for %s, dropping oldest", address.Hex())
				if g.metrics != nil {
					g.metrics.BufferDrops.WithLabelValues("logs").Inc()
				}
				select {
				case <-out:
				default:
				}
				select {
				case out <- logEntry:
				default:
				}
			}
		}
	}
}

// SubscribeNewHeads mirrors SubscribeLogs's reconnect contract for block
// headers.
func (g *Gateway) SubscribeNewHeads(ctx context.Context) (<-chan *types.Header, error) {
	out := make(chan *types.Header, DefaultLogBufferSize)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := g.runHeadSubscription(ctx, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				g.logger.Printf("head subscription dropped, re-subscribing: %v", err)
				select {
				case <-time.After(g.Backoff):
				case <-ctx.Done():
					return
				}
				if g.metrics != nil {
					g.metrics.Resubscribes.WithLabelValues("heads").Inc()
				}
			}
		}
	}()

	return out, nil
}

func (g *Gateway) runHeadSubscription(ctx context.Context, out chan *types.Header) error {
	rawHeads := make(chan *types.Header, DefaultLogBufferSize)
	sub, err := g.ws.SubscribeNewHead(ctx, rawHeads)
	if err != nil {
		return fmt.Errorf("subscribe_new_heads: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case head := <-rawHeads:
			select {
			case out <- head:
			default:
				g.logger.Printf("head channel full, dropping oldest")
				if g.metrics != nil {
					g.metrics.BufferDrops.WithLabelValues("heads").Inc()
				}
				select {
				case <-out:
				default:
				}
				select {
				case out <- head:
				default:
				}
			}
		}
	}
}

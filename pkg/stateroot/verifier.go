// Copyright 2025 Certen Protocol
//
// Package stateroot cross-checks a rollup's aggregator-reported state root
// against the state root observed directly on an L2 execution client,
// before a DVN commits to a verification.
package stateroot

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

// JointTimeout bounds both the aggregator HTTP call and the RPC call
// together.
const JointTimeout = 10 * time.Second

// aggregatorEnvelope mirrors the wire shape of an aggregator
// state-root-update response. Only the fields the verifier needs are kept;
// the rest of the envelope is ignored on decode.
type aggregatorEnvelope struct {
	Message aggregatorMessage `json:"Message"`
}

type aggregatorMessage struct {
	RollupID    uint32    `json:"RollupId"`
	BlockHeight uint64    `json:"BlockHeight"`
	StateRoot   byteSlice `json:"StateRoot"`
}

// byteSlice unmarshals a JSON array of byte values (the aggregator's wire
// format) into a []byte. encoding/json's native []byte support assumes a
// base64 string, which is not what the aggregator sends.
type byteSlice []byte

func (b *byteSlice) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// Verifier cross-checks aggregator-reported and chain-observed state roots
// for one rollup.
type Verifier struct {
	httpClient        *http.Client
	rpcURL            string
	aggregatorBaseURL string
	rollupID          uint32

	logger *log.Logger
}

// New builds a Verifier for the given rollup against an aggregator base URL
// (e.g. "https://aggregator.example.com") and an L2 JSON-RPC HTTP endpoint.
func New(aggregatorBaseURL, rpcURL string, rollupID uint32) *Verifier {
	return &Verifier{
		httpClient:        &http.Client{Timeout: JointTimeout},
		rpcURL:            rpcURL,
		aggregatorBaseURL: aggregatorBaseURL,
		rollupID:          rollupID,
		logger:            log.New(log.Writer(), "[stateroot] ", log.LstdFlags),
	}
}

// Verify reports whether the aggregator's and the chain's state roots agree
// for the given block height. It never returns an error: any failure of
// either leg (timeout, network error, height mismatch, root mismatch)
// resolves to false.
func (v *Verifier) Verify(ctx context.Context, blockHeight uint64) bool {
	ctx, cancel := context.WithTimeout(ctx, JointTimeout)
	defer cancel()

	var aggMsg aggregatorMessage
	var chainRoot []byte

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		msg, err := v.fetchAggregatorStateRoot(gctx, blockHeight)
		if err != nil {
			return err
		}
		aggMsg = msg
		return nil
	})
	g.Go(func() error {
		root, err := v.fetchBlockStateRoot(gctx, blockHeight)
		if err != nil {
			return err
		}
		chainRoot = root
		return nil
	})

	if err := g.Wait(); err != nil {
		v.logger.Printf("state root verification failed for block %d: %v", blockHeight, err)
		return false
	}

	if aggMsg.BlockHeight != blockHeight {
		v.logger.Printf("block heights disagree comparing state roots: aggregator=%d requested=%d (aggregator root=%x chain root=%x)", aggMsg.BlockHeight, blockHeight, aggMsg.StateRoot, chainRoot)
		return false
	}

	equal := hex.EncodeToString(aggMsg.StateRoot) == hex.EncodeToString(chainRoot)
	if !equal {
		v.logger.Printf("state roots disagree for block %d: aggregator=%x chain=%x", blockHeight, aggMsg.StateRoot, chainRoot)
	}
	return equal
}

// fetchAggregatorStateRoot fetches the state root the aggregator has
// recorded for a given block height.
func (v *Verifier) fetchAggregatorStateRoot(ctx context.Context, blockHeight uint64) (aggregatorMessage, error) {
	endpoint, err := url.Parse(v.aggregatorBaseURL + "/aggregation/state-root-update")
	if err != nil {
		return aggregatorMessage{}, fmt.Errorf("stateroot: invalid aggregator URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("rollupId", fmt.Sprintf("%d", v.rollupID))
	q.Set("blockHeight", fmt.Sprintf("%d", blockHeight))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return aggregatorMessage{}, fmt.Errorf("stateroot: failed to build aggregator request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return aggregatorMessage{}, fmt.Errorf("stateroot: aggregator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return aggregatorMessage{}, fmt.Errorf("stateroot: aggregator returned status %d", resp.StatusCode)
	}

	var envelope aggregatorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return aggregatorMessage{}, fmt.Errorf("stateroot: failed to decode aggregator response: %w", err)
	}
	return envelope.Message, nil
}

// rpcBlockHeader is the subset of an eth_getBlockByNumber result this
// verifier needs.
type rpcBlockHeader struct {
	StateRoot string `json:"stateRoot"`
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result *rpcBlockHeader `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// fetchBlockStateRoot retrieves the state root of a block directly from the
// L2 execution client via eth_getBlockByNumber.
func (v *Verifier) fetchBlockStateRoot(ctx context.Context, blockHeight uint64) ([]byte, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_getBlockByNumber",
		Params:  []interface{}{fmt.Sprintf("0x%x", blockHeight), false},
	})
	if err != nil {
		return nil, fmt.Errorf("stateroot: failed to encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stateroot: failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stateroot: rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("stateroot: failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("stateroot: rpc error: %s", rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return nil, fmt.Errorf("stateroot: block %d not found", blockHeight)
	}

	root, err := hexDecode(rpcResp.Result.StateRoot)
	if err != nil {
		return nil, fmt.Errorf("stateroot: failed to decode stateRoot: %w", err)
	}
	return root, nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

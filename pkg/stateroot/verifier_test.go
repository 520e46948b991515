// Copyright 2025 Certen Protocol

package stateroot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testStateRoot = []byte{
	99, 80, 208, 69, 66, 69, 251, 65, 15, 192, 251, 147, 246, 100, 140, 91,
	144, 71, 166, 8, 20, 65, 227, 111, 15, 243, 171, 37, 156, 154, 71, 240,
}

func stateRootHex(root []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(root)*2)
	out[0], out[1] = '0', 'x'
	for i, b := range root {
		out[2+i*2] = hextable[b>>4]
		out[2+i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

func newMockServer(t *testing.T, blockHeight uint64, root []byte) (*httptest.Server, *httptest.Server) {
	t.Helper()

	agg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nums := make([]int, len(root))
		for i, b := range root {
			nums[i] = int(b)
		}
		resp := map[string]interface{}{
			"Message": map[string]interface{}{
				"RollupId":    1,
				"BlockHeight": blockHeight,
				"StateRoot":   nums,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))

	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]interface{}{
				"stateRoot": stateRootHex(root),
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))

	return agg, rpc
}

func TestVerifyMatchingRoots(t *testing.T) {
	agg, rpc := newMockServer(t, 2, testStateRoot)
	defer agg.Close()
	defer rpc.Close()

	v := New(agg.URL, rpc.URL, 1)
	if !v.Verify(t.Context(), 2) {
		t.Fatalf("expected matching state roots to verify")
	}
}

func TestVerifyMismatchedRoots(t *testing.T) {
	agg, _ := newMockServer(t, 2, testStateRoot)
	defer agg.Close()

	_, rpc := newMockServer(t, 2, make([]byte, 32))
	defer rpc.Close()

	v := New(agg.URL, rpc.URL, 1)
	if v.Verify(t.Context(), 2) {
		t.Fatalf("expected mismatched state roots to fail verification")
	}
}

func TestVerifyMismatchedBlockHeight(t *testing.T) {
	agg, rpc := newMockServer(t, 999, testStateRoot)
	defer agg.Close()
	defer rpc.Close()

	v := New(agg.URL, rpc.URL, 1)
	if v.Verify(t.Context(), 2) {
		t.Fatalf("expected block height mismatch to fail verification")
	}
}

func TestVerifyAggregatorUnreachable(t *testing.T) {
	_, rpc := newMockServer(t, 2, testStateRoot)
	defer rpc.Close()

	v := New("http://127.0.0.1:1", rpc.URL, 1)
	if v.Verify(t.Context(), 2) {
		t.Fatalf("expected unreachable aggregator to fail verification")
	}
}

func TestVerifyTimeoutNeverPanics(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	v := New(slow.URL, slow.URL, 1)
	v.httpClient.Timeout = 10 * time.Millisecond
	if v.Verify(t.Context(), 2) {
		t.Fatalf("expected a slow response to fail verification, not panic")
	}
}

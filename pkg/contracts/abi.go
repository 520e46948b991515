// Copyright 2025 Certen Protocol
//
// Package contracts loads the ABI artifacts used by the chain gateway and
// exposes the handful of LayerZero method/event names the workers call.
package contracts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Logical ABI names. These map 1:1 to artifact files under the configured
// ABI directory, named "<LogicalName>.json".
const (
	EndpointABI   = "L0V2Endpoint"
	SendLibABI    = "SendLibUln302"
	ReceiveLibABI = "ReceiveLibUln302"
)

// Event and method names used by the DVN and Executor workers.
const (
	EventPacketSent      = "PacketSent"
	EventDVNFeePaid      = "DVNFeePaid"
	EventExecutorFeePaid = "ExecutorFeePaid"
	EventPacketVerified  = "PacketVerified"

	MethodGetReceiveLibrary = "getReceiveLibrary"
	MethodGetUlnConfig      = "getUlnConfig"
	MethodIsVerified        = "_verified"
	MethodVerify            = "verify"
	MethodExecutable        = "executable"
	MethodLzReceive         = "lzReceive"
)

type artifact struct {
	ABI json.RawMessage `json:"abi"`
}

// Loader loads and caches parsed ABIs by logical name from a directory of
// JSON artifact files. Missing ABIs are a fatal startup error per the
// configuration contract: callers should treat Load's error as fatal.
type Loader struct {
	dir string

	mu    sync.Mutex
	cache map[string]abi.ABI
}

// NewLoader creates a Loader reading artifacts from dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]abi.ABI)}
}

// Load parses and returns the ABI registered under the given logical name,
// e.g. contracts.EndpointABI. The result is cached.
func (l *Loader) Load(logicalName string) (abi.ABI, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cached, ok := l.cache[logicalName]; ok {
		return cached, nil
	}

	path := filepath.Join(l.dir, logicalName+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("contracts: failed to read ABI artifact %q: %w", path, err)
	}

	var art artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return abi.ABI{}, fmt.Errorf("contracts: failed to parse ABI artifact %q: %w", path, err)
	}
	if len(art.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("contracts: artifact %q has no \"abi\" key", path)
	}

	parsed, err := abi.JSON(strings.NewReader(string(art.ABI)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("contracts: failed to decode ABI %q: %w", logicalName, err)
	}

	l.cache[logicalName] = parsed
	return parsed, nil
}

// MustLoad loads all of the logical names given, returning on the first
// error. Intended for startup wiring where a missing ABI must be fatal.
func (l *Loader) MustLoad(logicalNames ...string) (map[string]abi.ABI, error) {
	out := make(map[string]abi.ABI, len(logicalNames))
	for _, name := range logicalNames {
		parsed, err := l.Load(name)
		if err != nil {
			return nil, err
		}
		out[name] = parsed
	}
	return out, nil
}

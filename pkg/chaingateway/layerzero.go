// Copyright 2025 Certen Protocol

package chaingateway

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/lz-dvn-executor/pkg/codec"
	"github.com/certen/lz-dvn-executor/pkg/contracts"
)

// UlnConfig is the subset of an ULN302 receive-library configuration the
// workers need: how many block confirmations a packet must accrue before
// it is eligible for verification.
type UlnConfig struct {
	Confirmations        uint64
	RequiredDVNCount     uint8
	OptionalDVNCount     uint8
	OptionalDVNThreshold uint8
	RequiredDVNs         []common.Address
	OptionalDVNs         []common.Address
}

// rawUlnConfig is the decode target for the ReceiveLibUln302.getUlnConfig
// tuple return value: one exported field per tuple component, named by
// capitalizing the component's ABI name, in declaration order.
type rawUlnConfig struct {
	Confirmations        uint64
	RequiredDVNCount     uint8
	OptionalDVNCount     uint8
	OptionalDVNThreshold uint8
	RequiredDVNs         []common.Address
	OptionalDVNs         []common.Address
}

// ExecutionState mirrors the Endpoint's `executable` return value.
type ExecutionState uint8

const (
	NotExecutable ExecutionState = iota
	VerifiedNotExecutable
	Executable
	Executed
)

// GetReceiveLibrary returns the receive library address an OApp has
// configured for a given source endpoint ID.
func (g *Gateway) GetReceiveLibrary(ctx context.Context, endpoint common.Address, endpointABI abi.ABI, oapp common.Address, srcEid uint32) (common.Address, error) {
	out, err := g.Call(ctx, endpoint, endpointABI, contracts.MethodGetReceiveLibrary, oapp, srcEid)
	if err != nil {
		return common.Address{}, fmt.Errorf("chaingateway: getReceiveLibrary: %w", err)
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("chaingateway: getReceiveLibrary: empty result")
	}
	lib, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chaingateway: getReceiveLibrary: unexpected return type %T", out[0])
	}
	return lib, nil
}

// GetUlnConfig fetches the confirmation and DVN threshold configuration an
// OApp has set for a receive library / source endpoint pair.
func (g *Gateway) GetUlnConfig(ctx context.Context, receiveLib common.Address, receiveLibABI abi.ABI, oapp common.Address, srcEid uint32) (UlnConfig, error) {
	out, err := g.Call(ctx, receiveLib, receiveLibABI, contracts.MethodGetUlnConfig, oapp, srcEid)
	if err != nil {
		return UlnConfig{}, fmt.Errorf("chaingateway: getUlnConfig: %w", err)
	}
	if len(out) == 0 {
		return UlnConfig{}, fmt.Errorf("chaingateway: getUlnConfig: empty result")
	}

	raw := *abi.ConvertType(out[0], new(rawUlnConfig)).(*rawUlnConfig)

	return UlnConfig{
		Confirmations:        raw.Confirmations,
		RequiredDVNCount:     raw.RequiredDVNCount,
		OptionalDVNCount:     raw.OptionalDVNCount,
		OptionalDVNThreshold: raw.OptionalDVNThreshold,
		RequiredDVNs:         raw.RequiredDVNs,
		OptionalDVNs:         raw.OptionalDVNs,
	}, nil
}

// IsAlreadyVerified probes the receive library's `_verified` view to check
// whether this DVN has already submitted a verification for the given
// packet header / payload hash pair, at the required confirmation depth.
// Any failure of the call, whether the contract lacks this optional method
// or the call fails for another reason, is reported wrapped in
// ErrMethodUnavailable.
func (g *Gateway) IsAlreadyVerified(ctx context.Context, receiveLib common.Address, receiveLibABI abi.ABI, dvn common.Address, headerHash, payloadHash []byte, requiredConfirmations uint64) (bool, error) {
	out, err := g.Call(ctx, receiveLib, receiveLibABI, contracts.MethodIsVerified, dvn, headerHash, payloadHash, requiredConfirmations)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMethodUnavailable, err)
	}
	if len(out) == 0 {
		return false, fmt.Errorf("chaingateway: _verified: empty result")
	}
	verified, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("chaingateway: _verified: unexpected return type %T", out[0])
	}
	return verified, nil
}

// Verify submits this DVN's verification of a packet to the receive
// library.
func (g *Gateway) Verify(ctx context.Context, receiveLib common.Address, receiveLibABI abi.ABI, packetHeader []byte, payloadHash [32]byte, confirmations uint64) error {
	_, err := g.Send(ctx, receiveLib, receiveLibABI, contracts.MethodVerify, packetHeader, payloadHash, confirmations)
	if err != nil {
		return fmt.Errorf("chaingateway: verify: %w", err)
	}
	return nil
}

// Executable reports whether a packet identified by its Origin and receiver
// is ready for lzReceive execution.
func (g *Gateway) Executable(ctx context.Context, endpoint common.Address, endpointABI abi.ABI, origin codec.Origin, receiver common.Address) (ExecutionState, error) {
	out, err := g.Call(ctx, endpoint, endpointABI, contracts.MethodExecutable, originTuple(origin), receiver)
	if err != nil {
		return NotExecutable, fmt.Errorf("chaingateway: executable: %w", err)
	}
	if len(out) == 0 {
		return NotExecutable, fmt.Errorf("chaingateway: executable: empty result")
	}
	state, ok := out[0].(uint8)
	if !ok {
		return NotExecutable, fmt.Errorf("chaingateway: executable: unexpected return type %T", out[0])
	}
	return ExecutionState(state), nil
}

// LzReceive delivers a packet's message to its destination OApp.
func (g *Gateway) LzReceive(ctx context.Context, endpoint common.Address, endpointABI abi.ABI, origin codec.Origin, receiver common.Address, guid [32]byte, message []byte, extraData []byte) error {
	_, err := g.Send(ctx, endpoint, endpointABI, contracts.MethodLzReceive, originTuple(origin), receiver, guid, message, extraData)
	if err != nil {
		return fmt.Errorf("chaingateway: lzReceive: %w", err)
	}
	return nil
}

// rawOrigin mirrors the Origin tuple type as declared in the Endpoint ABI.
type rawOrigin struct {
	SrcEid uint32
	Sender [32]byte
	Nonce  uint64
}

// originTuple adapts codec.Origin to the struct shape go-ethereum's abi
// encoder expects for a Solidity tuple argument.
func originTuple(o codec.Origin) rawOrigin {
	return rawOrigin{SrcEid: o.SrcEid, Sender: o.Sender, Nonce: o.Nonce}
}

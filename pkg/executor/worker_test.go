// Copyright 2025 Certen Protocol

package executor

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/certen/lz-dvn-executor/pkg/chaingateway"
	"github.com/certen/lz-dvn-executor/pkg/codec"
)

const endpointABIJSON = `[
	{"anonymous":false,"name":"PacketSent","type":"event","inputs":[
		{"indexed":false,"name":"encodedPayload","type":"bytes"},
		{"indexed":false,"name":"options","type":"bytes"},
		{"indexed":false,"name":"sendLibrary","type":"address"}
	]},
	{"anonymous":false,"name":"PacketVerified","type":"event","inputs":[
		{"indexed":false,"name":"origin","type":"tuple","components":[
			{"name":"srcEid","type":"uint32"},
			{"name":"sender","type":"bytes32"},
			{"name":"nonce","type":"uint64"}
		]},
		{"indexed":false,"name":"receiver","type":"address"},
		{"indexed":false,"name":"payloadHash","type":"bytes32"}
	]}
]`

const sendLibABIJSON = `[
	{"anonymous":false,"name":"ExecutorFeePaid","type":"event","inputs":[
		{"indexed":false,"name":"executor","type":"address"},
		{"indexed":false,"name":"fee","type":"uint256"}
	]}
]`

// fakeGateway implements gatewayHandle: it records calls and returns canned
// executable states in sequence instead of making any network call.
type fakeGateway struct {
	executableStates []chaingateway.ExecutionState
	callIndex        int
	executableCalls  int
	lzReceiveCalls   int
	lastReceiver     common.Address
	lastGUID         [32]byte
}

func (f *fakeGateway) SubscribeLogs(ctx context.Context, address common.Address, topic common.Hash) (<-chan types.Log, error) {
	return make(chan types.Log), nil
}

func (f *fakeGateway) Executable(ctx context.Context, endpoint common.Address, endpointABI ethabi.ABI, origin codec.Origin, receiver common.Address) (chaingateway.ExecutionState, error) {
	f.executableCalls++
	if f.callIndex >= len(f.executableStates) {
		return chaingateway.NotExecutable, nil
	}
	s := f.executableStates[f.callIndex]
	f.callIndex++
	return s, nil
}

func (f *fakeGateway) LzReceive(ctx context.Context, endpoint common.Address, endpointABI ethabi.ABI, origin codec.Origin, receiver common.Address, guid [32]byte, message []byte, extraData []byte) error {
	f.lzReceiveCalls++
	f.lastReceiver = receiver
	f.lastGUID = guid
	return nil
}

func mustParseABI(t *testing.T, raw string) ethabi.ABI {
	t.Helper()
	parsed, err := ethabi.JSON(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("failed to parse test ABI: %v", err)
	}
	return parsed
}

func newTestWorker(t *testing.T, gw *fakeGateway) *Worker {
	t.Helper()
	return &Worker{
		gateway:     gw,
		endpointABI: mustParseABI(t, endpointABIJSON),
		sendLibABI:  mustParseABI(t, sendLibABIJSON),
		pollSleep:   func(time.Duration) {},
		logger:      log.New(io.Discard, "", 0),
	}
}

func buildTestPacket(guidByte byte, messageLen int) []byte {
	packet := make([]byte, 113+messageLen)
	packet[0] = 1
	for i := 81; i < 113; i++ {
		packet[i] = guidByte
	}
	return packet
}

func encodePacketSentLog(t *testing.T, endpointABI ethabi.ABI, encodedPayload []byte) types.Log {
	t.Helper()
	data, err := endpointABI.Events["PacketSent"].Inputs.NonIndexed().Pack(encodedPayload, []byte{}, common.Address{})
	if err != nil {
		t.Fatalf("failed to pack PacketSent: %v", err)
	}
	return types.Log{Data: data}
}

type originTuple struct {
	SrcEid uint32
	Sender [32]byte
	Nonce  uint64
}

func encodePacketVerifiedLog(t *testing.T, endpointABI ethabi.ABI, receiver common.Address) types.Log {
	t.Helper()
	data, err := endpointABI.Events["PacketVerified"].Inputs.NonIndexed().Pack(
		originTuple{}, receiver, [32]byte{},
	)
	if err != nil {
		t.Fatalf("failed to pack PacketVerified: %v", err)
	}
	return types.Log{Data: data}
}

func TestPacketSentQueuesPacket(t *testing.T) {
	gw := &fakeGateway{}
	w := newTestWorker(t, gw)

	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, buildTestPacket(0xAB, 256)))

	if w.QueueLen() != 1 {
		t.Fatalf("expected queue length 1, got %d", w.QueueLen())
	}
}

func TestExecutorHappyPath(t *testing.T) {
	gw := &fakeGateway{executableStates: []chaingateway.ExecutionState{chaingateway.Executable}}
	w := newTestWorker(t, gw)

	receiver := common.HexToAddress("0x0101010101010101010101010101010101010101")
	packet := buildTestPacket(0xCD, 256)
	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, packet))

	err := w.handlePacketVerified(t.Context(), encodePacketVerifiedLog(t, w.endpointABI, receiver))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gw.lzReceiveCalls != 1 {
		t.Fatalf("expected exactly one lzReceive call, got %d", gw.lzReceiveCalls)
	}
	if gw.lastReceiver != receiver {
		t.Fatalf("lzReceive called with wrong receiver: %s", gw.lastReceiver.Hex())
	}
	expectedGUID, err := codec.GUID(packet)
	if err != nil {
		t.Fatalf("failed to extract expected guid: %v", err)
	}
	if string(gw.lastGUID[:]) != string(expectedGUID) {
		t.Fatalf("lzReceive called with wrong guid")
	}
	if w.QueueLen() != 0 {
		t.Fatalf("expected queue to be empty after processing, got %d", w.QueueLen())
	}
}

func TestExecutorStallThenExecutable(t *testing.T) {
	gw := &fakeGateway{executableStates: []chaingateway.ExecutionState{
		chaingateway.NotExecutable, chaingateway.NotExecutable, chaingateway.Executable,
	}}
	w := newTestWorker(t, gw)

	receiver := common.HexToAddress("0x02")
	packet := buildTestPacket(0x01, 64)
	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, packet))

	if err := w.handlePacketVerified(t.Context(), encodePacketVerifiedLog(t, w.endpointABI, receiver)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gw.executableCalls != 3 {
		t.Fatalf("expected exactly three executable calls, got %d", gw.executableCalls)
	}
	if gw.lzReceiveCalls != 1 {
		t.Fatalf("expected exactly one lzReceive call, got %d", gw.lzReceiveCalls)
	}
}

func TestExecutorAlreadyExecutedStopsPolling(t *testing.T) {
	gw := &fakeGateway{executableStates: []chaingateway.ExecutionState{chaingateway.Executed}}
	w := newTestWorker(t, gw)

	packet := buildTestPacket(0x01, 64)
	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, packet))

	if err := w.handlePacketVerified(t.Context(), encodePacketVerifiedLog(t, w.endpointABI, common.Address{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.lzReceiveCalls != 0 {
		t.Fatalf("expected zero lzReceive calls for already-executed packet, got %d", gw.lzReceiveCalls)
	}
}

func TestExecutorTerminatesWithinMaxAttempts(t *testing.T) {
	states := make([]chaingateway.ExecutionState, 0)
	for i := 0; i < 50; i++ {
		states = append(states, chaingateway.NotExecutable)
	}
	gw := &fakeGateway{executableStates: states}
	w := newTestWorker(t, gw)

	packet := buildTestPacket(0x01, 64)
	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, packet))

	if err := w.handlePacketVerified(t.Context(), encodePacketVerifiedLog(t, w.endpointABI, common.Address{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gw.executableCalls != MaxExecuteAttempts {
		t.Fatalf("expected exactly %d executable calls, got %d", MaxExecuteAttempts, gw.executableCalls)
	}
	if gw.lzReceiveCalls != 0 {
		t.Fatalf("expected zero lzReceive calls when retries exhausted, got %d", gw.lzReceiveCalls)
	}
}

func TestPacketVerifiedWithEmptyQueueIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	w := newTestWorker(t, gw)

	if err := w.handlePacketVerified(t.Context(), encodePacketVerifiedLog(t, w.endpointABI, common.Address{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.executableCalls != 0 {
		t.Fatalf("expected zero executable calls with empty queue, got %d", gw.executableCalls)
	}
}

func TestPacketVerifiedClearsQueueLeftovers(t *testing.T) {
	gw := &fakeGateway{executableStates: []chaingateway.ExecutionState{chaingateway.Executable}}
	w := newTestWorker(t, gw)

	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, buildTestPacket(0x01, 64)))
	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, buildTestPacket(0x02, 64)))
	if w.QueueLen() != 2 {
		t.Fatalf("expected queue length 2 before processing, got %d", w.QueueLen())
	}

	if err := w.handlePacketVerified(t.Context(), encodePacketVerifiedLog(t, w.endpointABI, common.Address{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.QueueLen() != 0 {
		t.Fatalf("expected queue fully cleared after PacketVerified, got %d", w.QueueLen())
	}
}

// Copyright 2025 Certen Protocol

package dvn

import (
	"context"
	"io"
	"log"
	"math/big"
	"strings"
	"testing"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/lz-dvn-executor/pkg/chaingateway"
)

const endpointABIJSON = `[
	{"anonymous":false,"name":"PacketSent","type":"event","inputs":[
		{"indexed":false,"name":"encodedPayload","type":"bytes"},
		{"indexed":false,"name":"options","type":"bytes"},
		{"indexed":false,"name":"sendLibrary","type":"address"}
	]}
]`

const sendLibABIJSON = `[
	{"anonymous":false,"name":"DVNFeePaid","type":"event","inputs":[
		{"indexed":false,"name":"requiredDVNs","type":"address[]"},
		{"indexed":false,"name":"optionalDVNs","type":"address[]"},
		{"indexed":false,"name":"fees","type":"uint256[]"}
	]}
]`

const receiveLibABIJSON = `[{"name":"getUlnConfig","type":"function","stateMutability":"view","inputs":[],"outputs":[]}]`

// fakeGateway implements logSubscriber and receiveLibCaller for tests: it records calls and
// returns canned responses instead of making any network call.
type fakeGateway struct {
	ulnConfig         chaingateway.UlnConfig
	alreadyVerified   bool
	ulnConfigCalls    int
	verifyCalls       int
	lastPayloadHash   [32]byte
	lastHeader        []byte
	lastConfirmations uint64
}

func (f *fakeGateway) SubscribeLogs(ctx context.Context, address common.Address, topic common.Hash) (<-chan types.Log, error) {
	return make(chan types.Log), nil
}

func (f *fakeGateway) GetUlnConfig(ctx context.Context, receiveLib common.Address, receiveLibABI ethabi.ABI, oapp common.Address, srcEid uint32) (chaingateway.UlnConfig, error) {
	f.ulnConfigCalls++
	return f.ulnConfig, nil
}

func (f *fakeGateway) IsAlreadyVerified(ctx context.Context, receiveLib common.Address, receiveLibABI ethabi.ABI, dvn common.Address, headerHash, payloadHash []byte, requiredConfirmations uint64) (bool, error) {
	return f.alreadyVerified, nil
}

func (f *fakeGateway) Verify(ctx context.Context, receiveLib common.Address, receiveLibABI ethabi.ABI, packetHeader []byte, payloadHash [32]byte, confirmations uint64) error {
	f.verifyCalls++
	f.lastPayloadHash = payloadHash
	f.lastHeader = packetHeader
	f.lastConfirmations = confirmations
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

func newTestWorker(t *testing.T, gw *fakeGateway, selfAddr common.Address) *Worker {
	t.Helper()
	return &Worker{
		cfg: Config{
			SelfAddress: selfAddr,
		},
		sourceGateway: gw,
		targetGateway: gw,
		endpointABI:   mustParseABI(t, endpointABIJSON),
		sendLibABI:    mustParseABI(t, sendLibABIJSON),
		receiveLibABI: mustParseABI(t, receiveLibABIJSON),
		state:         Listening,
		logger:        log.New(io.Discard, "", 0),
	}
}

func encodePacketSentLog(t *testing.T, endpointABI ethabi.ABI, encodedPayload []byte) types.Log {
	t.Helper()
	data, err := endpointABI.Events["PacketSent"].Inputs.NonIndexed().Pack(encodedPayload, []byte{}, common.Address{})
	if err != nil {
		t.Fatalf("failed to pack PacketSent: %v", err)
	}
	return types.Log{Data: data, BlockNumber: 100}
}

func encodeDVNFeePaidLog(t *testing.T, sendLibABI ethabi.ABI, required []common.Address) types.Log {
	t.Helper()
	data, err := sendLibABI.Events["DVNFeePaid"].Inputs.NonIndexed().Pack(required, []common.Address{}, []*big.Int{})
	if err != nil {
		t.Fatalf("failed to pack DVNFeePaid: %v", err)
	}
	return types.Log{Data: data, BlockNumber: 200}
}

func buildTestPacket(message string) []byte {
	payload := make([]byte, 113+len(message))
	payload[0] = 1 // version
	copy(payload[113:], message)
	return payload
}

func TestHandlePacketSentStoresPayload(t *testing.T) {
	selfAddr := common.HexToAddress("0xA")
	gw := &fakeGateway{}
	w := newTestWorker(t, gw, selfAddr)

	packet := buildTestPacket("abc")
	logEntry := encodePacketSentLog(t, w.endpointABI, packet)

	w.handlePacketSent(logEntry)

	if w.state != PacketReceived {
		t.Fatalf("expected state PacketReceived, got %v", w.state)
	}
	if string(w.packet) != string(packet) {
		t.Fatalf("stored packet does not match input")
	}
}

func TestHandlePacketSentReplacesPrevious(t *testing.T) {
	selfAddr := common.HexToAddress("0xA")
	gw := &fakeGateway{}
	w := newTestWorker(t, gw, selfAddr)

	first := buildTestPacket("first")
	second := buildTestPacket("second-message")

	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, first))
	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, second))

	if string(w.packet) != string(second) {
		t.Fatalf("expected last-writer-wins, stored packet was not replaced")
	}
}

func TestDVNNotRequiredReturnsToListeningWithoutVerify(t *testing.T) {
	selfAddr := common.HexToAddress("0xA")
	otherAddr := common.HexToAddress("0xB")
	gw := &fakeGateway{ulnConfig: chaingateway.UlnConfig{Confirmations: 3}}
	w := newTestWorker(t, gw, selfAddr)

	packet := buildTestPacket("abc")
	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, packet))

	w.handleDVNFeePaid(t.Context(), encodeDVNFeePaidLog(t, w.sendLibABI, []common.Address{otherAddr}))

	if w.state != Listening {
		t.Fatalf("expected state Listening, got %v", w.state)
	}
	if w.packet != nil {
		t.Fatalf("expected stored packet to be cleared")
	}
	if gw.verifyCalls != 0 {
		t.Fatalf("expected zero verify calls, got %d", gw.verifyCalls)
	}
}

func TestDVNRequiredCallsVerifyExactlyOnce(t *testing.T) {
	selfAddr := common.HexToAddress("0xA")
	gw := &fakeGateway{ulnConfig: chaingateway.UlnConfig{Confirmations: 3}}
	w := newTestWorker(t, gw, selfAddr)

	packet := buildTestPacket("abc")
	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, packet))

	w.handleDVNFeePaid(t.Context(), encodeDVNFeePaidLog(t, w.sendLibABI, []common.Address{selfAddr}))

	if gw.ulnConfigCalls != 1 {
		t.Fatalf("expected exactly one getUlnConfig call, got %d", gw.ulnConfigCalls)
	}
	if gw.verifyCalls != 1 {
		t.Fatalf("expected exactly one verify call, got %d", gw.verifyCalls)
	}
	if string(gw.lastHeader) != string(packet[:81]) {
		t.Fatalf("verify called with wrong header")
	}
	wantHash := crypto.Keccak256([]byte("abc"))
	if string(gw.lastPayloadHash[:]) != string(wantHash) {
		t.Fatalf("verify called with wrong payload hash: got %x want %x", gw.lastPayloadHash, wantHash)
	}
	if gw.lastConfirmations != 3 {
		t.Fatalf("verify called with wrong confirmations: got %d want 3", gw.lastConfirmations)
	}
	if w.state != Listening {
		t.Fatalf("expected state to return to Listening after verification, got %v", w.state)
	}
	if w.packet != nil {
		t.Fatalf("expected stored packet to be cleared after verification")
	}
}

func TestDVNAlreadyVerifiedSkipsVerify(t *testing.T) {
	selfAddr := common.HexToAddress("0xA")
	gw := &fakeGateway{ulnConfig: chaingateway.UlnConfig{Confirmations: 3}, alreadyVerified: true}
	w := newTestWorker(t, gw, selfAddr)

	packet := buildTestPacket("abc")
	w.handlePacketSent(encodePacketSentLog(t, w.endpointABI, packet))
	w.handleDVNFeePaid(t.Context(), encodeDVNFeePaidLog(t, w.sendLibABI, []common.Address{selfAddr}))

	if gw.verifyCalls != 0 {
		t.Fatalf("expected zero verify calls when already verified, got %d", gw.verifyCalls)
	}
}

func TestDVNFeePaidWithNoStoredPacketIsIgnored(t *testing.T) {
	selfAddr := common.HexToAddress("0xA")
	gw := &fakeGateway{ulnConfig: chaingateway.UlnConfig{Confirmations: 3}}
	w := newTestWorker(t, gw, selfAddr)

	w.handleDVNFeePaid(t.Context(), encodeDVNFeePaidLog(t, w.sendLibABI, []common.Address{selfAddr}))

	if gw.verifyCalls != 0 {
		t.Fatalf("expected zero verify calls with no stored packet, got %d", gw.verifyCalls)
	}
}

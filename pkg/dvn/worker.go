// Copyright 2025 Certen Protocol
//
// Package dvn implements the Decentralized Verification Network worker: a
// single-task state machine that observes a source chain's PacketSent and
// DVNFeePaid events, and, when this DVN is required, submits a verify call
// on the target chain's receive library.
package dvn

import (
	"context"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/lz-dvn-executor/pkg/chaingateway"
	"github.com/certen/lz-dvn-executor/pkg/codec"
	"github.com/certen/lz-dvn-executor/pkg/contracts"
	"github.com/certen/lz-dvn-executor/pkg/metrics"
	"github.com/certen/lz-dvn-executor/pkg/stateroot"
)

// State is the DVN worker's lifecycle state. Owned exclusively by the
// worker's single event-loop goroutine; no locking is needed around it.
type State int

const (
	Stopped State = iota
	Listening
	PacketReceived
	Verifying
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Listening:
		return "Listening"
	case PacketReceived:
		return "PacketReceived"
	case Verifying:
		return "Verifying"
	default:
		return "Unknown"
	}
}

// Config carries everything the worker needs to run, mirroring the
// configuration record.
type Config struct {
	SourceEndpoint common.Address
	SourceSendLib  common.Address

	TargetReceiveLib common.Address

	SelfAddress common.Address

	// VerifyStateRoot makes the advisory state-root check blocking: when
	// true, a failed state-root verification aborts the verify call
	// instead of only logging a warning.
	VerifyStateRoot bool
}

// logSubscriber is the subset of chaingateway.Gateway the DVN worker uses to
// receive events, narrowed to an interface so tests can substitute a fake.
type logSubscriber interface {
	SubscribeLogs(ctx context.Context, address common.Address, topic common.Hash) (<-chan types.Log, error)
}

// receiveLibCaller is the subset of chaingateway.Gateway the DVN worker uses
// to call the target-chain receive library.
type receiveLibCaller interface {
	GetUlnConfig(ctx context.Context, receiveLib common.Address, receiveLibABI abi.ABI, oapp common.Address, srcEid uint32) (chaingateway.UlnConfig, error)
	IsAlreadyVerified(ctx context.Context, receiveLib common.Address, receiveLibABI abi.ABI, dvn common.Address, headerHash, payloadHash []byte, requiredConfirmations uint64) (bool, error)
	Verify(ctx context.Context, receiveLib common.Address, receiveLibABI abi.ABI, packetHeader []byte, payloadHash [32]byte, confirmations uint64) error
}

// Worker is the DVN state machine. One Worker drives exactly one source/
// target chain pair: it subscribes to events on the source chain and calls
// the receive library on the target chain, so it holds a gateway dialed to
// each.
type Worker struct {
	cfg Config

	sourceGateway logSubscriber
	targetGateway receiveLibCaller

	endpointABI   abi.ABI
	sendLibABI    abi.ABI
	receiveLibABI abi.ABI
	verifier      *stateroot.Verifier

	state  State
	packet []byte // raw encodedPayload of the currently stored PacketSent, or nil

	logger  *log.Logger
	metrics *metrics.Registry // nil-safe: unset in tests
}

// WithMetrics attaches a metrics.Registry the worker will report to. Safe to
// call at most once, before Listen.
func (w *Worker) WithMetrics(m *metrics.Registry) *Worker {
	w.metrics = m
	return w
}

// New builds a Worker. sourceGateway must be dialed to the source chain
// (where PacketSent/DVNFeePaid are emitted); targetGateway must be dialed to
// the target chain (where the receive library lives).
func New(cfg Config, sourceGateway *chaingateway.Gateway, targetGateway *chaingateway.Gateway, abis map[string]abi.ABI, verifier *stateroot.Verifier) (*Worker, error) {
	endpointABI, ok := abis[contracts.EndpointABI]
	if !ok {
		return nil, fmt.Errorf("dvn: missing %s ABI", contracts.EndpointABI)
	}
	sendLibABI, ok := abis[contracts.SendLibABI]
	if !ok {
		return nil, fmt.Errorf("dvn: missing %s ABI", contracts.SendLibABI)
	}
	receiveLibABI, ok := abis[contracts.ReceiveLibABI]
	if !ok {
		return nil, fmt.Errorf("dvn: missing %s ABI", contracts.ReceiveLibABI)
	}

	return &Worker{
		cfg:           cfg,
		sourceGateway: sourceGateway,
		targetGateway: targetGateway,
		endpointABI:   endpointABI,
		sendLibABI:    sendLibABI,
		receiveLibABI: receiveLibABI,
		verifier:      verifier,
		state:         Stopped,
		logger:        log.New(log.Writer(), "[dvn] ", log.LstdFlags),
	}, nil
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State { return w.state }

// Listen opens the PacketSent and DVNFeePaid subscriptions and runs the
// event loop until ctx is cancelled or a fatal error occurs. It returns only
// on fatal error or clean shutdown.
func (w *Worker) Listen(ctx context.Context) error {
	packetSentTopic := w.endpointABI.Events[contracts.EventPacketSent].ID
	dvnFeePaidTopic := w.sendLibABI.Events[contracts.EventDVNFeePaid].ID

	endpointLogs, err := w.sourceGateway.SubscribeLogs(ctx, w.cfg.SourceEndpoint, packetSentTopic)
	if err != nil {
		return fmt.Errorf("dvn: failed to subscribe to PacketSent: %w", err)
	}
	sendLibLogs, err := w.sourceGateway.SubscribeLogs(ctx, w.cfg.SourceSendLib, dvnFeePaidTopic)
	if err != nil {
		return fmt.Errorf("dvn: failed to subscribe to DVNFeePaid: %w", err)
	}

	w.state = Listening
	w.logger.Printf("listening for packets on source endpoint %s", w.cfg.SourceEndpoint.Hex())

	for {
		select {
		case <-ctx.Done():
			w.state = Stopped
			return ctx.Err()

		case logEntry, ok := <-endpointLogs:
			if !ok {
				return fmt.Errorf("dvn: PacketSent subscription closed")
			}
			w.handlePacketSent(logEntry)

		case logEntry, ok := <-sendLibLogs:
			if !ok {
				return fmt.Errorf("dvn: DVNFeePaid subscription closed")
			}
			w.handleDVNFeePaid(ctx, logEntry)
		}
	}
}

// handlePacketSent stores the packet, replacing anything previously stored
// (last-writer-wins per the source contract).
func (w *Worker) handlePacketSent(logEntry types.Log) {
	values, err := w.endpointABI.Unpack(contracts.EventPacketSent, logEntry.Data)
	if err != nil {
		w.logger.Printf("WARN: failed to decode PacketSent log, skipping: %v", err)
		return
	}
	if len(values) < 1 {
		w.logger.Printf("WARN: PacketSent log decoded with no fields, skipping")
		return
	}
	encodedPayload, ok := values[0].([]byte)
	if !ok {
		w.logger.Printf("WARN: PacketSent encodedPayload had unexpected type %T, skipping", values[0])
		return
	}

	w.packet = encodedPayload
	w.state = PacketReceived
	if w.metrics != nil {
		w.metrics.PacketsReceived.WithLabelValues("dvn").Inc()
	}
	w.logger.Printf("packet received at block %d, awaiting DVNFeePaid", logEntry.BlockNumber)
}

// handleDVNFeePaid checks this DVN's membership in requiredDVNs and, if
// included, runs the verification flow.
func (w *Worker) handleDVNFeePaid(ctx context.Context, logEntry types.Log) {
	values, err := w.sendLibABI.Unpack(contracts.EventDVNFeePaid, logEntry.Data)
	if err != nil {
		w.logger.Printf("WARN: failed to decode DVNFeePaid log, skipping: %v", err)
		return
	}
	if len(values) < 1 {
		w.logger.Printf("WARN: DVNFeePaid log decoded with no fields, skipping")
		return
	}
	requiredDVNs, ok := values[0].([]common.Address)
	if !ok {
		w.logger.Printf("WARN: DVNFeePaid requiredDVNs had unexpected type %T, skipping", values[0])
		return
	}

	if w.packet == nil {
		w.logger.Printf("DVNFeePaid received with no stored packet, ignoring")
		return
	}

	if !containsAddress(requiredDVNs, w.cfg.SelfAddress) {
		w.logger.Printf("self (%s) not in requiredDVNs, dropping stored packet", w.cfg.SelfAddress.Hex())
		w.packet = nil
		w.state = Listening
		return
	}

	w.logger.Printf("self required to verify, starting verification")
	if err := w.verifyStoredPacket(ctx, logEntry); err != nil {
		w.logger.Printf("ERROR: verification failed, returning to Listening: %v", err)
		if w.metrics != nil {
			w.metrics.VerifyCalls.WithLabelValues("error").Inc()
		}
	} else if w.metrics != nil {
		w.metrics.VerifyCalls.WithLabelValues("ok").Inc()
	}

	w.packet = nil
	w.state = Listening
}

// verifyStoredPacket runs the verification sequence against the currently
// stored packet: fetch the required confirmation depth, skip if already
// verified, optionally cross-check the state root, then submit verify.
func (w *Worker) verifyStoredPacket(ctx context.Context, logEntry types.Log) error {
	w.state = Verifying

	header, err := codec.Header(w.packet)
	if err != nil {
		return fmt.Errorf("packet shorter than header: %w", err)
	}
	message, err := codec.Message(w.packet)
	if err != nil {
		return fmt.Errorf("packet shorter than message offset: %w", err)
	}

	headerHash := crypto.Keccak256(header)
	messageHash := crypto.Keccak256(message)

	// The receive library resolves its own address as the oapp when asked
	// for the default ULN config.
	ulnConfig, err := w.targetGateway.GetUlnConfig(ctx, w.cfg.TargetReceiveLib, w.receiveLibABI, w.cfg.TargetReceiveLib, codec.SrcEid(w.packet))
	if err != nil {
		return fmt.Errorf("get_uln_config: %w", err)
	}
	confirmations := ulnConfig.Confirmations

	alreadyVerified, err := w.targetGateway.IsAlreadyVerified(ctx, w.cfg.TargetReceiveLib, w.receiveLibABI, w.cfg.SelfAddress, headerHash, messageHash, confirmations)
	if err != nil {
		w.logger.Printf("_verified probe unavailable or failed, proceeding to verify anyway: %v", err)
	} else if alreadyVerified {
		w.logger.Printf("packet already verified by this dvn, skipping")
		return nil
	}

	if w.verifier != nil {
		ok := w.verifier.Verify(ctx, logEntry.BlockNumber)
		if w.metrics != nil {
			if ok {
				w.metrics.StateRootChecks.WithLabelValues("match").Inc()
			} else {
				w.metrics.StateRootChecks.WithLabelValues("mismatch").Inc()
			}
		}
		if !ok {
			if w.cfg.VerifyStateRoot {
				return fmt.Errorf("state root verification failed for block %d", logEntry.BlockNumber)
			}
			w.logger.Printf("WARN: state root verification failed for block %d, proceeding anyway (advisory check)", logEntry.BlockNumber)
		}
	}

	var messageHash32 [32]byte
	copy(messageHash32[:], messageHash)
	if err := w.targetGateway.Verify(ctx, w.cfg.TargetReceiveLib, w.receiveLibABI, header, messageHash32, confirmations); err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	w.logger.Printf("verification submitted for packet with %d required confirmations", confirmations)
	return nil
}

func containsAddress(addrs []common.Address, target common.Address) bool {
	for _, a := range addrs {
		if a == target {
			return true
		}
	}
	return false
}

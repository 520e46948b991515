// Copyright 2025 Certen Protocol
//
// Package executor implements the Executor worker: a single-threaded state
// machine that queues PacketSent events on the target chain and, once a
// packet is verified, polls the endpoint's executable predicate until the
// packet can be delivered via lzReceive.
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/certen/lz-dvn-executor/pkg/chaingateway"
	"github.com/certen/lz-dvn-executor/pkg/codec"
	"github.com/certen/lz-dvn-executor/pkg/contracts"
	"github.com/certen/lz-dvn-executor/pkg/metrics"
)

// MaxExecuteAttempts bounds the executable poll loop per packet.
const MaxExecuteAttempts = 10

// PollInterval is the delay between executable polls.
const PollInterval = 1 * time.Second

// Config carries the addresses and flags the executor worker needs.
type Config struct {
	TargetEndpoint common.Address
	TargetSendLib  common.Address

	SelfAddress common.Address

	// StrictFeeRecipient clears the packet queue when an ExecutorFeePaid
	// event names an executor other than SelfAddress. Off by default: the
	// source protocol left this logic commented out.
	StrictFeeRecipient bool
}

// logSubscriber narrows chaingateway.Gateway to the subscription method the
// executor worker uses.
type logSubscriber interface {
	SubscribeLogs(ctx context.Context, address common.Address, topic common.Hash) (<-chan types.Log, error)
}

// endpointCaller narrows chaingateway.Gateway to the target-endpoint methods
// the executor worker calls.
type endpointCaller interface {
	Executable(ctx context.Context, endpoint common.Address, endpointABI abi.ABI, origin codec.Origin, receiver common.Address) (chaingateway.ExecutionState, error)
	LzReceive(ctx context.Context, endpoint common.Address, endpointABI abi.ABI, origin codec.Origin, receiver common.Address, guid [32]byte, message []byte, extraData []byte) error
}

type gatewayHandle interface {
	logSubscriber
	endpointCaller
}

// Worker is the Executor state machine.
type Worker struct {
	cfg Config

	gateway     gatewayHandle
	endpointABI abi.ABI
	sendLibABI  abi.ABI

	queue [][]byte // raw encodedPayload of queued PacketSent events, FIFO

	// pollSleep is swapped out in tests to avoid real time.Sleep delays.
	pollSleep func(time.Duration)

	logger  *log.Logger
	metrics *metrics.Registry // nil-safe: unset in tests
}

// WithMetrics attaches a metrics.Registry the worker will report to. Safe to
// call at most once, before Listen.
func (w *Worker) WithMetrics(m *metrics.Registry) *Worker {
	w.metrics = m
	return w
}

// New builds a Worker.
func New(cfg Config, gateway *chaingateway.Gateway, abis map[string]abi.ABI) (*Worker, error) {
	endpointABI, ok := abis[contracts.EndpointABI]
	if !ok {
		return nil, fmt.Errorf("executor: missing %s ABI", contracts.EndpointABI)
	}
	sendLibABI, ok := abis[contracts.SendLibABI]
	if !ok {
		return nil, fmt.Errorf("executor: missing %s ABI", contracts.SendLibABI)
	}

	return &Worker{
		cfg:         cfg,
		gateway:     gateway,
		endpointABI: endpointABI,
		sendLibABI:  sendLibABI,
		pollSleep:   time.Sleep,
		logger:      log.New(log.Writer(), "[executor] ", log.LstdFlags),
	}, nil
}

// QueueLen reports the number of packets currently queued. Exposed for
// tests and diagnostics.
func (w *Worker) QueueLen() int { return len(w.queue) }

// Listen opens the PacketSent, ExecutorFeePaid and PacketVerified
// subscriptions on the target chain and runs the event loop until ctx is
// cancelled or a fatal error occurs.
func (w *Worker) Listen(ctx context.Context) error {
	packetSentTopic := w.endpointABI.Events[contracts.EventPacketSent].ID
	executorFeePaidTopic := w.sendLibABI.Events[contracts.EventExecutorFeePaid].ID
	packetVerifiedTopic := w.endpointABI.Events[contracts.EventPacketVerified].ID

	packetSentLogs, err := w.gateway.SubscribeLogs(ctx, w.cfg.TargetEndpoint, packetSentTopic)
	if err != nil {
		return fmt.Errorf("executor: failed to subscribe to PacketSent: %w", err)
	}
	executorFeeLogs, err := w.gateway.SubscribeLogs(ctx, w.cfg.TargetSendLib, executorFeePaidTopic)
	if err != nil {
		return fmt.Errorf("executor: failed to subscribe to ExecutorFeePaid: %w", err)
	}
	packetVerifiedLogs, err := w.gateway.SubscribeLogs(ctx, w.cfg.TargetEndpoint, packetVerifiedTopic)
	if err != nil {
		return fmt.Errorf("executor: failed to subscribe to PacketVerified: %w", err)
	}

	w.logger.Printf("listening on target endpoint %s", w.cfg.TargetEndpoint.Hex())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case logEntry, ok := <-packetSentLogs:
			if !ok {
				return fmt.Errorf("executor: PacketSent subscription closed")
			}
			w.handlePacketSent(logEntry)

		case logEntry, ok := <-executorFeeLogs:
			if !ok {
				return fmt.Errorf("executor: ExecutorFeePaid subscription closed")
			}
			w.handleExecutorFeePaid(logEntry)

		case logEntry, ok := <-packetVerifiedLogs:
			if !ok {
				return fmt.Errorf("executor: PacketVerified subscription closed")
			}
			if err := w.handlePacketVerified(ctx, logEntry); err != nil {
				w.logger.Printf("ERROR: %v", err)
			}
		}
	}
}

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

	w.queue = append(w.queue, encodedPayload)
	w.logger.Printf("packet queued, queue length now %d", len(w.queue))
	if w.metrics != nil {
		w.metrics.PacketsReceived.WithLabelValues("executor").Inc()
		w.metrics.QueueLength.Set(float64(len(w.queue)))
	}
}

func (w *Worker) handleExecutorFeePaid(logEntry types.Log) {
	values, err := w.sendLibABI.Unpack(contracts.EventExecutorFeePaid, logEntry.Data)
	if err != nil {
		w.logger.Printf("WARN: failed to decode ExecutorFeePaid log, skipping: %v", err)
		return
	}
	if len(w.queue) == 0 {
		return
	}
	if !w.cfg.StrictFeeRecipient {
		return
	}
	if len(values) < 1 {
		return
	}
	paidTo, ok := values[0].(common.Address)
	if !ok {
		return
	}
	if paidTo != w.cfg.SelfAddress {
		w.logger.Printf("executor fee paid to %s, not self (%s); clearing queue", paidTo.Hex(), w.cfg.SelfAddress.Hex())
		w.queue = nil
		if w.metrics != nil {
			w.metrics.QueueLength.Set(0)
		}
	}
}

func (w *Worker) handlePacketVerified(ctx context.Context, logEntry types.Log) error {
	if len(w.queue) == 0 {
		return nil
	}

	packet := w.queue[0]
	w.queue = nil // any leftovers are garbage
	if w.metrics != nil {
		w.metrics.QueueLength.Set(0)
	}

	values, err := w.endpointABI.Unpack(contracts.EventPacketVerified, logEntry.Data)
	if err != nil {
		return fmt.Errorf("failed to decode PacketVerified log: %w", err)
	}
	if len(values) < 2 {
		return fmt.Errorf("PacketVerified log decoded with too few fields")
	}
	receiver, ok := values[1].(common.Address)
	if !ok {
		return fmt.Errorf("PacketVerified receiver had unexpected type %T", values[1])
	}

	return w.pollUntilExecutable(ctx, packet, receiver)
}

// pollUntilExecutable bounds how long it waits for the endpoint's
// executable predicate to clear before giving up on the packet.
func (w *Worker) pollUntilExecutable(ctx context.Context, packet []byte, receiver common.Address) error {
	origin, err := codec.OriginFromPacket(packet)
	if err != nil {
		return fmt.Errorf("packet shorter than header: %w", err)
	}

	for attempt := 1; attempt <= MaxExecuteAttempts; attempt++ {
		state, err := w.gateway.Executable(ctx, w.cfg.TargetEndpoint, w.endpointABI, origin, receiver)
		if err != nil {
			w.logger.Printf("ERROR: executable call failed on attempt %d: %v", attempt, err)
			return fmt.Errorf("executable: %w", err)
		}

		switch state {
		case chaingateway.NotExecutable, chaingateway.VerifiedNotExecutable:
			w.logger.Printf("packet not yet executable (state=%d), attempt %d/%d", state, attempt, MaxExecuteAttempts)
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				w.pollSleep(PollInterval)
			}
			continue

		case chaingateway.Executable:
			guid, gErr := codec.GUID(packet)
			if gErr != nil {
				return fmt.Errorf("packet shorter than guid offset: %w", gErr)
			}
			message, mErr := codec.Message(packet)
			if mErr != nil {
				return fmt.Errorf("packet shorter than message offset: %w", mErr)
			}
			var guidArr [32]byte
			copy(guidArr[:], guid)
			if err := w.gateway.LzReceive(ctx, w.cfg.TargetEndpoint, w.endpointABI, origin, receiver, guidArr, message, []byte{}); err != nil {
				if w.metrics != nil {
					w.metrics.ExecuteCalls.WithLabelValues("error").Inc()
				}
				return fmt.Errorf("lz_receive: %w", err)
			}
			if w.metrics != nil {
				w.metrics.ExecuteCalls.WithLabelValues("ok").Inc()
			}
			w.logger.Printf("packet delivered via lzReceive to %s", receiver.Hex())
			return nil

		case chaingateway.Executed:
			w.logger.Printf("packet already executed")
			return nil

		default:
			return fmt.Errorf("unknown executable state %d", state)
		}
	}

	w.logger.Printf("ERROR: maximum retries (%d) reached waiting for executable state, dropping packet", MaxExecuteAttempts)
	return nil
}

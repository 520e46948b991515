// Copyright 2025 Certen Protocol

package chaingateway

import "errors"

// ErrTransport is returned when an RPC call fails for network/transport
// reasons (connection refused, dial failure, broken pipe, ...).
var ErrTransport = errors.New("chaingateway: transport error")

// ErrRevert is returned when a contract call reverts on-chain.
var ErrRevert = errors.New("chaingateway: contract call reverted")

// ErrMethodUnavailable is returned by capability-probed optional methods
// (e.g. `_verified`) when the call fails. A contract that does not implement
// the method is one such failure; transport errors and reverts are wrapped
// the same way.
var ErrMethodUnavailable = errors.New("chaingateway: method not available on contract")

// Copyright 2025 Certen Protocol

package chaingateway

import (
	"context"
	"errors"
	"strings"
)

// classify wraps a raw RPC error with ErrTransport or ErrRevert so callers
// and the retry helper can reason about it uniformly.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "revert"), strings.Contains(msg, "execution reverted"):
		return errors.Join(ErrRevert, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"):
		return errors.Join(ErrTransport, err)
	default:
		return errors.Join(ErrTransport, err)
	}
}

// isRetryable reports whether a classified error should trigger another
// attempt: transport errors and contract reverts are retried per the
// per-call retry policy; everything else (e.g. a cancelled context) is not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRevert)
}

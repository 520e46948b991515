// Copyright 2025 Certen Protocol

package chaingateway

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyRevert(t *testing.T) {
	err := classify(errors.New("execution reverted: Ownable: caller is not the owner"))
	if !errors.Is(err, ErrRevert) {
		t.Fatalf("expected ErrRevert, got %v", err)
	}
}

func TestClassifyTransport(t *testing.T) {
	cases := []string{
		"dial tcp: connection refused",
		"unexpected EOF",
		"context deadline exceeded (Client.Timeout exceeded while awaiting headers)",
		"write: broken pipe",
		"dial tcp: lookup foo: no such host",
	}
	for _, msg := range cases {
		err := classify(errors.New(msg))
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("expected ErrTransport for %q, got %v", msg, err)
		}
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	if classify(nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestIsRetryableTransportAndRevert(t *testing.T) {
	if !isRetryable(classify(errors.New("connection refused"))) {
		t.Fatalf("expected transport error to be retryable")
	}
	if !isRetryable(classify(errors.New("execution reverted"))) {
		t.Fatalf("expected revert error to be retryable")
	}
}

func TestIsRetryableContextErrorsAreNotRetried(t *testing.T) {
	if isRetryable(context.Canceled) {
		t.Fatalf("context.Canceled must not be retryable")
	}
	if isRetryable(context.DeadlineExceeded) {
		t.Fatalf("context.DeadlineExceeded must not be retryable")
	}
}

func TestIsRetryableNilIsFalse(t *testing.T) {
	if isRetryable(nil) {
		t.Fatalf("nil error must not be retryable")
	}
}

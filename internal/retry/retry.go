package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrTransient marks an error as worth retrying.
var ErrTransient = errors.New("transient rpc error")

// Policy bounds the retries of a single RPC operation.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Notify is called before each retry with the failed attempt's error.
type Notify func(err error, wait time.Duration)

// Do runs fn until it succeeds, returns a non-transient error, the policy is
// exhausted or ctx is done. The last error is returned unchanged so callers
// can still classify it with IsTransient.
func Do(ctx context.Context, policy Policy, notify Notify, fn func(context.Context) error) error {
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.Backoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	if policy.MaxBackoff > 0 {
		b.MaxInterval = policy.MaxBackoff
	}
	b.MaxElapsedTime = 0

	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
	if notify == nil {
		return backoff.Retry(op, bo)
	}
	return backoff.RetryNotify(op, bo, backoff.Notify(notify))
}

// IsTransient reports whether err is a network or server-side failure that a
// later attempt may not hit. JSON-RPC error responses are treated as fatal:
// the node understood the request and rejected it.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"timeout",
	"too many requests",
	"temporarily unavailable",
	"no such host",
}

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

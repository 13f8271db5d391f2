package network

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// connector establishes outbound TCP connections with exponential
// backoff, grounded on spec.md section 4.5's "retries with exponential
// backoff up to retry_times attempts (or unlimited if 0) separated by
// wait_time ms". The teacher's tcp listener (transport/tcp/listener.go)
// only accepts; this adds the matching outbound half it never needed.
type connector struct {
	addr       string
	retryTimes int // 0 means unlimited
	wait       time.Duration
	aborted    atomic.Bool
}

func newConnector(addr string, retryTimes int, wait time.Duration) *connector {
	return &connector{addr: addr, retryTimes: retryTimes, wait: wait}
}

// abort requests the in-progress connect loop stop at its next check
// point. Best-effort, per spec.md section 5's cancellation model.
func (c *connector) abort() { c.aborted.Store(true) }

// connect retries net.Dial with exponential backoff capped at 30s,
// checking ctx and the abort flag between attempts and before each
// dial. Returns nebulaerrors.ErrConnectTimeout once retryTimes attempts
// (when retryTimes != 0) are exhausted.
func (c *connector) connect(ctx context.Context) (net.Conn, error) {
	backoff := c.wait
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	const maxBackoff = 30 * time.Second

	attempt := 0
	for {
		if c.aborted.Load() {
			return nil, context.Canceled
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		dialer := net.Dialer{Timeout: backoff}
		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err == nil {
			return conn, nil
		}

		attempt++
		if c.retryTimes != 0 && attempt >= c.retryTimes {
			return nil, connectTimeoutError(c.addr, attempt)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

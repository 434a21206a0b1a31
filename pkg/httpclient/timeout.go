package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptrace"
	"sync"
	"time"
)

// ErrReadTimeout is returned (wrapped) when no response data arrived within
// the per-call read timeout.
var ErrReadTimeout = errors.New("read timeout")

type connectTimeoutKey struct{}

// withConnectTimeout stores the per-call connect timeout for the pool dialer.
func withConnectTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, connectTimeoutKey{}, d)
}

// connectTimeoutFrom returns the connect timeout stored in ctx, or fallback.
func connectTimeoutFrom(ctx context.Context, fallback time.Duration) time.Duration {
	if d, ok := ctx.Value(connectTimeoutKey{}).(time.Duration); ok {
		return d
	}
	return fallback
}

// CallContext bounds ctx for an exchange made over HTTPClient instead of Do,
// such as a token endpoint request. The pool dialer applies t.Connect and the
// whole exchange must complete within t.Connect+t.Read. A zero Read leaves the
// exchange bounded only by ctx.
func CallContext(ctx context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	ctx = withConnectTimeout(ctx, t.Connect)
	if t.Read <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.Connect+t.Read)
}

// readDeadline is an inactivity timer. It is armed when a connection is
// obtained and re-armed whenever the exchange makes progress. When it fires,
// the request context is cancelled with ErrReadTimeout as the cause.
type readDeadline struct {
	d      time.Duration
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (r *readDeadline) arm() {
	if r.d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer == nil {
		r.timer = time.AfterFunc(r.d, func() { r.cancel(ErrReadTimeout) })
		return
	}
	r.timer.Reset(r.d)
}

func (r *readDeadline) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
}

// trace returns the client trace hooks that arm the deadline.
func (r *readDeadline) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn:      func(httptrace.GotConnInfo) { r.arm() },
		WroteRequest: func(httptrace.WroteRequestInfo) { r.arm() },
	}
}

// wrapTimeout marks err as a read timeout when the deadline fired.
func wrapTimeout(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrReadTimeout) {
		return err
	}
	if errors.Is(context.Cause(ctx), ErrReadTimeout) {
		return fmt.Errorf("%w: %w", ErrReadTimeout, err)
	}
	return err
}

// timedBody re-arms the read deadline on every successful read and releases
// the per-call context when closed.
type timedBody struct {
	io.ReadCloser
	ctx      context.Context
	deadline *readDeadline
	cancel   context.CancelCauseFunc
}

func (b *timedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == nil || n > 0 {
		b.deadline.arm()
	}
	if err != nil && err != io.EOF {
		err = wrapTimeout(b.ctx, err)
	}
	return n, err
}

func (b *timedBody) Close() error {
	b.deadline.stop()
	err := b.ReadCloser.Close()
	b.cancel(nil)
	return err
}

// withTrace installs the deadline's trace hooks, composing with any trace
// already present in ctx.
func withTrace(ctx context.Context, d *readDeadline) context.Context {
	return httptrace.WithClientTrace(ctx, d.trace())
}

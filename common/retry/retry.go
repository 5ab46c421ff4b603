package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"time"

	se "wuyrush.io/vtourist/errors"
)

/*
	Retry utils with following feature:
	- exponential backoff
	- jitter
	- max attempts
	- max timeout
	- cancellation via context

	Retries up to either MaxAttempts or till Timeout or RetryOn returns false. The time interval between the i-th and (i+1)-th
	attempt is `min( BaseDelay * ( Exp ^ i + Jitter ), MaxBackoff )`
*/

// Fn is the function to retry
type Fn func() error

// RetryOnFn decides whether to retry on given error
type RetryOnFn func(error) bool

type RetryConfig struct {
	MaxAttempts int64
	MaxBackoff  time.Duration // maximum wait time before next attempt
	Timeout     time.Duration // zero value means no timeout
	Jitter      float64
	BaseDelay   time.Duration
	Exp         float64
	RetryOn     RetryOnFn
	Ctx         context.Context
}

type RetryOption func(*RetryConfig)

func defaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: math.MaxInt64,
		MaxBackoff:  time.Duration(math.MaxInt64),
		Exp:         1,
		RetryOn:     func(error) bool { return false },
		Ctx:         context.Background(),
	}
}

func WithMaxAttempts(a int64) RetryOption {
	return func(c *RetryConfig) {
		c.MaxAttempts = a
	}
}

func WithTimeout(t time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Timeout = t
	}
}

func WithJitter(j float64) RetryOption {
	return func(c *RetryConfig) {
		c.Jitter = j
	}
}

func WithBaseDelay(t time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.BaseDelay = t
	}
}

func WithExp(e float64) RetryOption {
	return func(c *RetryConfig) {
		c.Exp = e
	}
}

func WithRetryOn(f RetryOnFn) RetryOption {
	return func(c *RetryConfig) {
		c.RetryOn = f
	}
}

func WithMaxBackoff(b time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.MaxBackoff = b
	}
}

// WithContext stops retrying once ctx is done
func WithContext(ctx context.Context) RetryOption {
	return func(c *RetryConfig) {
		c.Ctx = ctx
	}
}

// Retry calls f once, then retries it up to MaxAttempts times while RetryOn approves the error f returns.
func Retry(f Fn, opts ...RetryOption) error {
	cfg := defaultRetryConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	// fire f first in case it doesn't need retry at all
	err := f()
	if !cfg.RetryOn(err) {
		return err
	}
	// receive from nil chan always block, representing no timeout
	var timeout <-chan time.Time
	if cfg.Timeout != 0 {
		// note that a timer fires immediately if created with a non-positive duration
		t := time.NewTimer(cfg.Timeout)
		defer t.Stop()
		timeout = t.C
	}
	var i int64
	for ; i < cfg.MaxAttempts; i++ {
		factor := math.Pow(cfg.Exp, float64(i)) + cfg.Jitter
		// cap the delay to the max of time.Duration, which is ~290 years
		delay := time.Duration(math.Min(float64(cfg.BaseDelay.Nanoseconds())*factor, math.MaxInt64)) * time.Nanosecond
		if delay > cfg.MaxBackoff {
			delay = cfg.MaxBackoff
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
			err = f()
			if !cfg.RetryOn(err) {
				return err
			}
		case <-timeout:
			t.Stop()
			return ErrRetryTimedOut
		case <-cfg.Ctx.Done():
			t.Stop()
			return cfg.Ctx.Err()
		}
	}
	return err
}

type errRetry string

func (e errRetry) Error() string {
	return string(e)
}

const ErrRetryTimedOut errRetry = "retry timed out"

// IsDepOffline tells whether err indicates the dependency is temporarily unreachable. Transport errors carrying a
// 4XX response are permanent, except for request timeouts and throttling.
func IsDepOffline(err error) bool {
	if err == nil {
		return false
	}
	if se.CodeOf(err) == se.ErrCodeTransport {
		switch status := se.RemoteStatusOf(err); {
		case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
			return true
		case status >= 400 && status < 500:
			return false
		default:
			return true
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	var operr *net.OpError
	return errors.As(err, &operr)
}

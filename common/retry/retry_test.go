package retry

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	se "wuyrush.io/vtourist/errors"
)

type testErrRetryable struct {
}

func (e testErrRetryable) Error() string {
	return "retryable err"
}

func TestRetry(t *testing.T) {
	retryable, nonRetryable := testErrRetryable{}, fmt.Errorf("non-retryable")
	f := func(count *int, errs []error) error {
		cnt := *count
		// to prove the function logic is actually executed
		*count = cnt + 1
		return errs[cnt]
	}
	retryOn := func(e error) bool {
		_, ok := e.(testErrRetryable)
		return ok
	}
	tcs := []struct {
		name     string
		errs     []error
		strategy []RetryOption
		expected int
	}{
		{
			name:     "no retry",
			errs:     []error{nil},
			expected: 1,
		},
		{
			name: "retry with max attempt",
			errs: []error{
				retryable,
				retryable,
				retryable,
				nonRetryable,
			},
			expected: 3,
			strategy: []RetryOption{
				WithMaxAttempts(2),
				WithRetryOn(retryOn),
			},
		},
		{
			name: "retryOn",
			errs: []error{
				retryable,
				retryable,
				nonRetryable,
				retryable,
				retryable,
			},
			expected: 3,
			strategy: []RetryOption{
				WithMaxAttempts(10),
				WithRetryOn(retryOn),
			},
		},
		{
			name: "exponential backoff",
			errs: []error{
				retryable,
				retryable,
				nil,
			},
			expected: 3,
			strategy: []RetryOption{
				WithBaseDelay(time.Millisecond),
				WithExp(2.0),
				WithRetryOn(retryOn),
			},
		},
	}

	for _, c := range tcs {
		errs, strategy, exp := c.errs, c.strategy, c.expected
		t.Run(c.name, func(t *testing.T) {
			actual := 0
			Retry(
				func() error {
					// f can also return result besides values as long as we refer to
					// the result with pointer so that it won't get lost
					return f(&actual, errs)
				},
				strategy...,
			)
			assert.Equal(t, exp, actual, "unexpected attempt count for %v and %v", errs, strategy)
		})
	}
}

func TestRetryTimeout(t *testing.T) {
	err := Retry(
		func() error { return testErrRetryable{} },
		WithBaseDelay(time.Hour),
		WithTimeout(10*time.Millisecond),
		WithRetryOn(func(error) bool { return true }),
	)
	assert.Equal(t, ErrRetryTimedOut, err)
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(
		func() error { return testErrRetryable{} },
		WithBaseDelay(time.Hour),
		WithContext(ctx),
		WithRetryOn(func(error) bool { return true }),
	)
	assert.Equal(t, context.Canceled, err)
}

func TestIsDepOffline(t *testing.T) {
	assert.False(t, IsDepOffline(nil))
	assert.True(t, IsDepOffline(se.NewTransport("connection reset")))
	assert.False(t, IsDepOffline(se.NewAPI("invalid api key")))
	assert.False(t, IsDepOffline(fmt.Errorf("boom")))

	tcs := []struct {
		status   int
		expected bool
	}{
		{status: http.StatusNotFound, expected: false},
		{status: http.StatusForbidden, expected: false},
		{status: http.StatusGone, expected: false},
		{status: http.StatusRequestTimeout, expected: true},
		{status: http.StatusTooManyRequests, expected: true},
		{status: http.StatusInternalServerError, expected: true},
		{status: http.StatusServiceUnavailable, expected: true},
	}
	for _, tc := range tcs {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			err := se.NewTransport("flickr responded").WithRemoteStatus(tc.status)
			assert.Equal(t, tc.expected, IsDepOffline(err))
			assert.Equal(t, tc.expected, IsDepOffline(fmt.Errorf("download: %w", err)), "status is found down the chain")
		})
	}
}

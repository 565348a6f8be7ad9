package webtranspose

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPollConfig(t *testing.T) {
	cfg := newPollConfig(nil)
	assert.Equal(t, defaultPollInitial, cfg.initial)
	assert.Equal(t, defaultPollCap, cfg.cap)
	assert.Equal(t, defaultPollTimeout, cfg.timeout)

	cfg = newPollConfig([]PollOption{
		WithPollInterval(time.Second),
		WithPollCap(100 * time.Millisecond),
		WithPollTimeout(time.Minute),
	})
	assert.Equal(t, time.Second, cfg.initial)
	assert.Equal(t, time.Second, cfg.cap, "cap never drops below the initial interval")
	assert.Equal(t, time.Minute, cfg.timeout)
}

func TestPoll_ReturnsWhenDone(t *testing.T) {
	var calls atomic.Int32
	err := poll(context.Background(), newPollConfig(fastPoll()), "op", func(context.Context) (bool, error) {
		return calls.Add(1) == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPoll_KeepsCallerDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	want, _ := ctx.Deadline()

	err := poll(ctx, newPollConfig([]PollOption{WithPollTimeout(time.Millisecond)}), "op", func(ctx context.Context) (bool, error) {
		got, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.Equal(t, want, got)
		return true, nil
	})
	require.NoError(t, err)
}

func TestPoll_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := poll(ctx, newPollConfig(fastPoll()), "v1/chat/get", func(context.Context) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindTransport, apiErr.Kind)
	assert.Equal(t, CodeTimeout, apiErr.Code)
	assert.Equal(t, "v1/chat/get", apiErr.Op)
	assert.ErrorIs(t, err, context.Canceled)
}

package collector

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidator/internal/core"
	"liquidator/internal/mock"
	"liquidator/pkg/retry"
)

type fakeSub struct {
	errs chan error
}

func newFakeSub() *fakeSub           { return &fakeSub{errs: make(chan error, 1)} }
func (s *fakeSub) Unsubscribe()      {}
func (s *fakeSub) Err() <-chan error { return s.errs }
func (s *fakeSub) fail(err error)    { s.errs <- err }

type fakeSubscriber struct {
	mu         sync.Mutex
	headers    chan<- *gethtypes.Header
	logs       chan<- gethtypes.Log
	sub        *fakeSub
	subscribes int
	failFirst  bool
}

func (f *fakeSubscriber) SubscribeNewHead(ctx context.Context, ch chan<- *gethtypes.Header) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.failFirst && f.subscribes == 1 {
		return nil, errors.New("dial failed")
	}
	f.headers = ch
	f.sub = newFakeSub()
	return f.sub, nil
}

func (f *fakeSubscriber) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.logs = ch
	f.sub = newFakeSub()
	return f.sub, nil
}

func (f *fakeSubscriber) headerCh() chan<- *gethtypes.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers
}

func (f *fakeSubscriber) logCh() chan<- gethtypes.Log {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs
}

func (f *fakeSubscriber) current() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func fastPolicy() retry.RetryPolicy {
	return retry.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestBlockCollectorEmitsHeads(t *testing.T) {
	sub := &fakeSubscriber{}
	c := NewBlockCollector(sub, &mock.MockLogger{})
	c.policy = fastPolicy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan core.Event, 4)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, out) }()

	require.Eventually(t, func() bool { return sub.headerCh() != nil }, time.Second, time.Millisecond)
	sub.headerCh() <- &gethtypes.Header{Number: big.NewInt(42), Time: 1_700_000_000}

	select {
	case ev := <-out:
		blk, ok := ev.(core.NewBlock)
		require.True(t, ok)
		assert.Equal(t, uint64(42), blk.Number)
		assert.Equal(t, uint64(1_700_000_000), blk.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no block event")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestBlockCollectorResubscribes(t *testing.T) {
	sub := &fakeSubscriber{failFirst: true}
	c := NewBlockCollector(sub, &mock.MockLogger{})
	c.policy = fastPolicy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan core.Event, 4)
	go c.Run(ctx, out)

	// First attempt fails, the retry succeeds.
	require.Eventually(t, func() bool { return sub.headerCh() != nil }, time.Second, time.Millisecond)
	first := sub.current()

	// A dropped subscription triggers a fresh one.
	first.fail(errors.New("ws closed"))
	require.Eventually(t, func() bool { return sub.count() >= 3 }, time.Second, time.Millisecond)
}

func TestLogCollectorDecodesAndDropsBadLogs(t *testing.T) {
	sub := &fakeSubscriber{}
	decode := func(lg gethtypes.Log) (core.Event, error) {
		if len(lg.Data) == 0 {
			return nil, errors.New("empty log")
		}
		return core.NewBlock{Number: uint64(lg.Data[0])}, nil
	}
	c := NewLogCollector("test", sub, ethereum.FilterQuery{}, decode, &mock.MockLogger{})
	c.policy = fastPolicy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan core.Event, 4)
	go c.Run(ctx, out)

	require.Eventually(t, func() bool { return sub.logCh() != nil }, time.Second, time.Millisecond)
	logs := sub.logCh()
	logs <- gethtypes.Log{}                               // undecodable, dropped
	logs <- gethtypes.Log{Data: []byte{7}, Removed: true} // reorged, dropped
	logs <- gethtypes.Log{Data: []byte{9}}

	select {
	case ev := <-out:
		assert.Equal(t, core.NewBlock{Number: 9}, ev)
	case <-time.After(time.Second):
		t.Fatal("no decoded event")
	}
	assert.Empty(t, out)
}

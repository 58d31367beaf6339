// Package collector turns chain subscriptions into the engine's event
// stream. Each collector owns one subscription and republishes into a shared
// channel; subscriptions that drop are reestablished with backoff.
package collector

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"liquidator/internal/core"
	"liquidator/pkg/retry"
)

// ChainSubscriber is the subscription surface of an EVM websocket client.
// *ethclient.Client satisfies it.
type ChainSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *gethtypes.Header) (ethereum.Subscription, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error)
}

// LogDecoder maps a raw log onto a domain event.
type LogDecoder func(gethtypes.Log) (core.Event, error)

// BlockCollector emits a NewBlock event per chain head.
type BlockCollector struct {
	sub    ChainSubscriber
	logger core.ILogger
	policy retry.RetryPolicy
}

func NewBlockCollector(sub ChainSubscriber, logger core.ILogger) *BlockCollector {
	return &BlockCollector{
		sub:    sub,
		logger: logger.WithField("collector", "blocks"),
		policy: retry.DefaultPolicy,
	}
}

// Run republishes chain heads into out until the context is cancelled.
func (b *BlockCollector) Run(ctx context.Context, out chan<- core.Event) error {
	headers := make(chan *gethtypes.Header, 16)
	for {
		sub, err := b.subscribe(ctx, headers)
		if err != nil {
			return fmt.Errorf("block collector: %w", err)
		}

		err = b.pump(ctx, sub, headers, out)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("Head subscription lost, resubscribing", "error", err)
	}
}

func (b *BlockCollector) subscribe(ctx context.Context, headers chan *gethtypes.Header) (ethereum.Subscription, error) {
	var sub ethereum.Subscription
	err := retry.Do(ctx, b.policy, retry.Always, func() error {
		var err error
		sub, err = b.sub.SubscribeNewHead(ctx, headers)
		return err
	})
	return sub, err
}

func (b *BlockCollector) pump(ctx context.Context, sub ethereum.Subscription, headers <-chan *gethtypes.Header, out chan<- core.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case h := <-headers:
			ev := core.NewBlock{Number: h.Number.Uint64(), Timestamp: h.Time}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// LogCollector emits one decoded domain event per matching log. Logs that
// fail to decode are dropped with a warning; the filter only matches the
// factory's own topics, so a decode failure means a contract upgrade, not a
// recoverable condition worth stopping the stream for.
type LogCollector struct {
	sub    ChainSubscriber
	query  ethereum.FilterQuery
	decode LogDecoder
	logger core.ILogger
	policy retry.RetryPolicy
}

func NewLogCollector(name string, sub ChainSubscriber, query ethereum.FilterQuery, decode LogDecoder, logger core.ILogger) *LogCollector {
	return &LogCollector{
		sub:    sub,
		query:  query,
		decode: decode,
		logger: logger.WithField("collector", name),
		policy: retry.DefaultPolicy,
	}
}

func (l *LogCollector) Run(ctx context.Context, out chan<- core.Event) error {
	logs := make(chan gethtypes.Log, 64)
	for {
		sub, err := l.subscribe(ctx, logs)
		if err != nil {
			return fmt.Errorf("log collector: %w", err)
		}

		err = l.pump(ctx, sub, logs, out)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("Log subscription lost, resubscribing", "error", err)
	}
}

func (l *LogCollector) subscribe(ctx context.Context, logs chan gethtypes.Log) (ethereum.Subscription, error) {
	var sub ethereum.Subscription
	err := retry.Do(ctx, l.policy, retry.Always, func() error {
		var err error
		sub, err = l.sub.SubscribeFilterLogs(ctx, l.query, logs)
		return err
	})
	return sub, err
}

func (l *LogCollector) pump(ctx context.Context, sub ethereum.Subscription, logs <-chan gethtypes.Log, out chan<- core.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case lg := <-logs:
			if lg.Removed {
				continue
			}
			ev, err := l.decode(lg)
			if err != nil {
				l.logger.Warn("Dropping undecodable log", "tx", lg.TxHash.Hex(), "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

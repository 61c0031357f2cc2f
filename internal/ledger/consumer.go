package ledger

import (
	"context"
	"log/slog"
	"time"

	"fairbid/internal/infra"
)

const drainBatchSize = 256

// Store is implemented by the durable store. Kept narrow so tests can fake it.
type Store interface {
	ApplyRecord(rec *Record) error
	CountAllBids() (int64, error)
}

// Consumer drains ledger records into the durable store. Delivery is at
// least once; the store's bid insert is idempotent, so replays after a
// crash between apply and cursor commit are harmless.
type Consumer struct {
	queue    *Queue
	store    Store
	log      *slog.Logger
	interval time.Duration
}

// NewConsumer builds a consumer that drains queue into store every interval.
func NewConsumer(queue *Queue, store Store, log *slog.Logger, interval time.Duration) *Consumer {
	return &Consumer{queue: queue, store: store, log: log, interval: interval}
}

// Run drains until ctx is cancelled. Store failures back off and retry; the
// cursor only advances past records that were applied.
func (c *Consumer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			// Final drain so a clean shutdown leaves nothing pending.
			if err := c.DrainOnce(); err != nil {
				c.log.Warn("final ledger drain failed", slog.Any("error", err))
			}
			return
		case <-ticker.C:
			if err := c.DrainOnce(); err != nil {
				c.log.Warn("ledger drain failed", slog.Any("error", err), slog.Int("retry", retryCount))
				infra.GlobalMetrics.RecordError()
				delay := infra.CalculateBackoff(retryCount)
				retryCount++
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			retryCount = 0
		}
	}
}

// DrainOnce applies every pending record and advances the cursor. Exported
// so shutdown and tests can force a full drain synchronously.
func (c *Consumer) DrainOnce() error {
	cursor, err := c.queue.Cursor()
	if err != nil {
		return err
	}

	for {
		records, err := c.queue.ReadFrom(cursor, drainBatchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			break
		}

		for i := range records {
			if err := c.store.ApplyRecord(&records[i]); err != nil {
				// Commit what was applied so far before surfacing the error.
				if cerr := c.queue.CommitCursor(cursor); cerr != nil {
					c.log.Error("cursor commit failed", slog.Any("error", cerr))
				}
				return err
			}
			cursor = records[i].Seq
		}

		if err := c.queue.CommitCursor(cursor); err != nil {
			return err
		}
	}

	c.publishGauges(cursor)
	return nil
}

func (c *Consumer) publishGauges(cursor uint64) {
	last := c.queue.LastSeq()
	pending := int64(0)
	if last > cursor {
		pending = int64(last - cursor)
	}
	infra.GlobalMetrics.SetLedgerPending(pending)

	if n, err := c.store.CountAllBids(); err == nil {
		infra.GlobalMetrics.SetDurableBids(uint64(n))
	}
}

package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
)

const (
	// maxFeedCatchUp bounds the slots walked for one observation. Older slots are reported as a gap.
	maxFeedCatchUp = 64
	// maxSlotAttempts is how many observations a failing slot is retried on before it is reported as a gap
	maxSlotAttempts = 3
)

// slotFeed watches for new slots and pushes their transactions to every subscription.
// It streams slotSubscribe notifications when a websocket endpoint is configured and
// falls back to polling getSlot otherwise, or once the stream fails.
// Every slot after the first observed one is delivered in ascending order or reported as a gap.
type slotFeed struct {
	src      *RPCDataSource
	cancel   context.CancelFunc
	done     chan struct{}
	last     uint64
	failures int
}

func (s *RPCDataSource) startFeed() {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.feed != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &slotFeed{
		src:    s,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.feed = f
	s.feedDone = f.done
	go f.run(ctx)
}

// stopFeed cancels the feed without waiting, so it is safe to call from a subscription callback
func (s *RPCDataSource) stopFeed() {
	s.feedMu.Lock()
	f := s.feed
	s.feed = nil
	s.feedMu.Unlock()

	if f != nil {
		f.cancel()
	}
}

// waitFeed blocks until the most recently started feed has exited
func (s *RPCDataSource) waitFeed(ctx context.Context) {
	s.feedMu.Lock()
	done := s.feedDone
	s.feedMu.Unlock()

	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (f *slotFeed) run(ctx context.Context) {
	defer close(f.done)

	if f.src.desc.WSEndpoint != "" {
		err := f.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		f.src.logger.Warn("Slot stream failed, falling back to polling",
			zap.String("ws_endpoint", f.src.desc.WSEndpoint),
			zap.Error(err),
		)
	}
	f.poll(ctx)
}

func (f *slotFeed) stream(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.src.desc.WSEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", f.src.desc.WSEndpoint, err)
	}
	defer conn.Close()

	// unblock ReadJSON on cancellation
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	err = conn.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "slotSubscribe",
	})
	if err != nil {
		return fmt.Errorf("failed to send slotSubscribe: %w", err)
	}
	f.src.logger.Info("Streaming slots", zap.String("ws_endpoint", f.src.desc.WSEndpoint))

	for {
		var msg slotNotification
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read slot notification: %w", err)
		}
		if msg.Method != "slotNotification" {
			continue
		}
		f.deliver(ctx, msg.Params.Result.Slot)
	}
}

func (f *slotFeed) poll(ctx context.Context) {
	ticker := time.NewTicker(f.src.slotPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slot, err := f.src.GetSlot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					f.src.logger.Warn("Failed to poll slot", zap.Error(err))
				}
				continue
			}
			f.deliver(ctx, slot)
		}
	}
}

// deliver walks every slot after the last delivered one up to slot, starting at the
// first observed slot. A slot whose fetch fails stops the walk and is retried on the
// next observation, up to maxSlotAttempts.
func (f *slotFeed) deliver(ctx context.Context, slot uint64) {
	if f.last == 0 {
		if slot == 0 {
			return
		}
		f.last = slot - 1
	}
	if slot <= f.last {
		return
	}

	from := f.last + 1
	if slot-from >= maxFeedCatchUp {
		resume := slot - maxFeedCatchUp + 1
		f.reportGap(entities.SlotRange{FromSlot: from, ToSlot: resume - 1})
		f.last, f.failures = resume-1, 0
		from = resume
	}

	for next := from; next <= slot; next++ {
		if ctx.Err() != nil {
			return
		}

		txs, err := f.src.GetTransactionsBySlot(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.failures++
			if f.failures < maxSlotAttempts {
				f.src.logger.Warn("Failed to fetch slot transactions, retrying",
					zap.Uint64("slot", next),
					zap.Int("attempt", f.failures),
					zap.Error(err),
				)
				return
			}
			f.src.logger.Warn("Failed to fetch slot transactions, handing slot to backfill",
				zap.Uint64("slot", next),
				zap.Error(err),
			)
			f.reportGap(entities.SlotRange{FromSlot: next, ToSlot: next})
		}

		for _, tx := range txs {
			f.src.subs.Range(func(id string, cb sources.TransactionCallback) bool {
				f.safeCall(ctx, id, cb, tx)
				return true
			})
		}
		f.last, f.failures = next, 0
	}
}

func (f *slotFeed) reportGap(gap entities.SlotRange) {
	cb := f.src.gapCallback()
	if cb == nil {
		f.src.logger.Warn("Slot feed skipped slots",
			zap.Uint64("from_slot", gap.FromSlot),
			zap.Uint64("to_slot", gap.ToSlot),
		)
		return
	}
	cb(gap)
}

func (f *slotFeed) safeCall(ctx context.Context, id string, cb sources.TransactionCallback, tx entities.RawTransaction) {
	defer func() {
		if r := recover(); r != nil {
			f.src.logger.Error("Subscription callback panicked",
				zap.String("subscription_id", id),
				zap.String("signature", tx.Signature),
				zap.Any("panic", r),
			)
		}
	}()
	cb(ctx, tx)
}

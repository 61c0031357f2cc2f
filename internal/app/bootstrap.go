package app

import (
	"log/slog"

	"fairbid/internal/cache"
	"fairbid/internal/engine"
	"fairbid/internal/event"
	"fairbid/internal/infra"
	"fairbid/internal/infra/storage"
	"fairbid/internal/ledger"
	"fairbid/internal/realtime"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config      *infra.Config
	Storage     *storage.Storage
	Ledger      *ledger.Queue
	Cache       *cache.StateCache
	Hub         *realtime.Hub
	Coordinator *engine.Coordinator
	Lifecycle   *engine.Lifecycle
	Consumer    *ledger.Consumer
	Logger      *slog.Logger
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, DB, ledger, engine).
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping FairBid...")

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	b.Logger = logger

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	queue, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	b.Ledger = queue
	slog.Info("✅ Bid ledger opened", slog.Uint64("last_seq", queue.LastSeq()))

	b.Cache = cache.New()
	b.Hub = realtime.NewHub(logger)

	sink := &loggingSink{log: logger}
	b.Coordinator = engine.NewCoordinator(b.Cache, store, queue, b.Hub, cfg, logger)
	b.Lifecycle = engine.NewLifecycle(b.Cache, store, b.Hub, sink, cfg, logger)
	b.Consumer = ledger.NewConsumer(queue, store, logger, cfg.LedgerDrainInterval())

	if err := b.rebuildCache(); err != nil {
		return err
	}
	slog.Info("✅ State cache warmed")
	return nil
}

// rebuildCache reloads hot state after a restart: durable rows first, then
// the ledger records the consumer had not drained yet.
func (b *Bootstrap) rebuildCache() error {
	cursor, err := b.Ledger.Cursor()
	if err != nil {
		return err
	}

	var replay []engine.RecordView
	for {
		records, err := b.Ledger.ReadFrom(cursor, 256)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			replay = append(replay, engine.RecordView{
				AuctionID:      rec.Bid.AuctionID,
				BidderID:       rec.Bid.BidderID,
				Amount:         rec.Bid.Amount,
				CurrentPrice:   rec.CurrentPrice,
				TotalBidCount:  rec.TotalBidCount,
				ScheduledEnd:   rec.ScheduledEnd,
				Status:         rec.Status,
				ExtensionCount: rec.ExtensionCount,
			})
			cursor = rec.Seq
		}
	}

	return b.Lifecycle.RebuildCache(replay)
}

// Close releases storage resources in reverse dependency order.
func (b *Bootstrap) Close() {
	if b.Ledger != nil {
		if err := b.Ledger.Close(); err != nil {
			slog.Error("ledger close failed", slog.Any("error", err))
		}
	}
}

// loggingSink is the default collaborator sink: downstream systems (payment,
// reputation) are outside this process, so outcomes are logged for pickup.
type loggingSink struct {
	log *slog.Logger
}

func (s *loggingSink) AuctionClosed(o event.AuctionOutcome) {
	s.log.Info("auction outcome",
		slog.String("auction_id", o.AuctionID),
		slog.String("winner_id", o.WinnerID),
		slog.Int64("final_price", o.FinalPrice),
		slog.Bool("failed", o.Failed),
	)
}

func (s *loggingSink) CandidateNoShow(n event.CandidateNoShow) {
	s.log.Warn("candidate no-show",
		slog.String("user_id", n.UserID),
		slog.String("auction_id", n.AuctionID),
		slog.Int("rank", n.Rank),
	)
}

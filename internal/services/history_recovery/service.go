// Package history_recovery backfills price history for tradeable items that
// have none, from an external chart source.
//
// Items are processed one at a time with a fixed pause between requests.
// Snapshots go through the same append-only store path as live refreshes,
// so recovered history never rewrites what is already stored.
package history_recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

// Store is the persistence the recovery needs.
type Store interface {
	outbound.ItemStore
	outbound.PriceStore
}

// Config holds configuration for history recovery.
type Config struct {
	// Pace is the pause between two item requests.
	Pace time.Duration

	// MaxItems caps how many items one run handles. Zero means all.
	MaxItems int

	Logger *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		Pace:   100 * time.Millisecond,
		Logger: slog.Default(),
	}
}

// RecoverResult summarizes one recovery run.
type RecoverResult struct {
	Items      int
	Snapshots  int
	Empty      int
	Failed     int
	OutOfOrder int
}

// Service recovers price history.
type Service struct {
	config Config
	source outbound.HistorySource
	store  Store
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new history recovery service.
func NewService(config Config, source outbound.HistorySource, store Store) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	defaults := ConfigDefaults()
	if config.Pace < 0 {
		config.Pace = 0
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config: config,
		source: source,
		store:  store,
		logger: config.Logger.With("component", "history-recovery"),
	}, nil
}

// Start runs one recovery pass in the background.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RecoverAll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("history recovery failed", "error", err)
		}
	}()
}

// Stop cancels a background pass and waits for it to return.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RecoverAll backfills every tradeable item without stored history.
// A failed item is logged and skipped; a store failure ends the run.
func (s *Service) RecoverAll(ctx context.Context) (RecoverResult, error) {
	var result RecoverResult
	start := time.Now()

	ids, err := s.store.ListItemIDs(ctx, entity.ItemFilter{
		TradeableOnly:  true,
		WithoutHistory: true,
		Limit:          s.config.MaxItems,
	})
	if err != nil {
		return result, fmt.Errorf("list items without history: %w", err)
	}
	if len(ids) == 0 {
		s.logger.Info("no items need history recovery")
		return result, nil
	}
	s.logger.Info("recovering price history", "items", len(ids), "pace", s.config.Pace)

	for i, id := range ids {
		if i > 0 && s.config.Pace > 0 {
			timer := time.NewTimer(s.config.Pace)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Items++
		snapshots, err := s.source.FetchHistory(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			s.logger.Warn("history fetch failed", "itemID", id, "reason", entity.ErrorKind(err), "error", err)
			continue
		}
		if len(snapshots) == 0 {
			result.Empty++
			continue
		}

		appended, err := s.store.AppendSnapshots(ctx, snapshots)
		if err != nil {
			return result, fmt.Errorf("append history for item %d: %w", id, err)
		}
		result.Snapshots += appended.Appended
		result.OutOfOrder += len(appended.OutOfOrder)
	}

	s.logger.Info("history recovery complete",
		"items", result.Items,
		"snapshots", result.Snapshots,
		"empty", result.Empty,
		"failed", result.Failed,
		"duration", time.Since(start))
	return result, nil
}

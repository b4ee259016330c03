// Package store provides file-backed persistence: historical session candles
// for the backtest engine and the append-only execution audit log.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/monitorerr"
	"github.com/atlas-quant/optionengine/pkg/types"
)

// Store serves historical index candles from JSON files under dataDir, with
// an in-memory cache keyed by (underlying, date, timeframe).
type Store struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string
	cache   map[string][]types.Candle
}

// NewStore creates the store and its data directory.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{
		logger:  logger.Named("store"),
		dataDir: dataDir,
		cache:   make(map[string][]types.Candle),
	}, nil
}

func sessionKey(underlying string, date time.Time, timeframe types.Timeframe) string {
	return fmt.Sprintf("%s_%s_%s", underlying, date.Format("2006-01-02"), timeframe)
}

func (s *Store) sessionFile(underlying string, date time.Time, timeframe types.Timeframe) string {
	return filepath.Join(s.dataDir, sessionKey(underlying, date, timeframe)+".json")
}

// HasSessionData reports whether candles exist for the trading day, either
// cached or on disk. The backtest engine uses this to fail fast.
func (s *Store) HasSessionData(underlying string, date time.Time, timeframe types.Timeframe) bool {
	s.mu.RLock()
	_, cached := s.cache[sessionKey(underlying, date, timeframe)]
	s.mu.RUnlock()
	if cached {
		return true
	}
	_, err := os.Stat(s.sessionFile(underlying, date, timeframe))
	return err == nil
}

// LoadSessionCandles returns the trading day's candles sorted ascending by
// timestamp. A missing file is DATA_UNAVAILABLE.
func (s *Store) LoadSessionCandles(ctx context.Context, underlying string, date time.Time, timeframe types.Timeframe) ([]types.Candle, error) {
	key := sessionKey(underlying, date, timeframe)

	s.mu.RLock()
	if cached, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.sessionFile(underlying, date, timeframe))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, monitorerr.New(monitorerr.DataUnavailable,
				fmt.Sprintf("no candles for %s on %s", underlying, date.Format("2006-01-02")))
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var candles []types.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	s.mu.Lock()
	s.cache[key] = candles
	s.mu.Unlock()

	s.logger.Debug("session candles loaded",
		zap.String("underlying", underlying),
		zap.String("date", date.Format("2006-01-02")),
		zap.Int("bars", len(candles)),
	)
	return candles, nil
}

// SaveSessionCandles writes the day's candles to disk and primes the cache.
func (s *Store) SaveSessionCandles(underlying string, date time.Time, timeframe types.Timeframe, candles []types.Candle) error {
	sorted := make([]types.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal candles: %w", err)
	}
	if err := os.WriteFile(s.sessionFile(underlying, date, timeframe), data, 0o644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	s.mu.Lock()
	s.cache[sessionKey(underlying, date, timeframe)] = sorted
	s.mu.Unlock()
	return nil
}

// ClearCache drops every cached session; files on disk are untouched.
func (s *Store) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string][]types.Candle)
	s.mu.Unlock()
}

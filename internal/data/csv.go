// Package data provides CSV loading of historical close prices.
package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LoadCSVDir builds a MemoryProvider from a directory of per-symbol CSV
// files. Each file is named SYMBOL.csv and contains a "date,close" header
// followed by one row per trading day, dates in 2006-01-02 form.
func LoadCSVDir(logger *zap.Logger, dir string) (*MemoryProvider, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	provider := NewMemoryProvider(logger)
	loaded := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		symbol := strings.TrimSuffix(entry.Name(), ".csv")

		bars, err := loadCSVFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", entry.Name(), err)
		}
		provider.AddSeries(symbol, bars)
		loaded++

		logger.Debug("Loaded price series",
			zap.String("symbol", symbol),
			zap.Int("bars", len(bars)),
		)
	}

	if loaded == 0 {
		return nil, fmt.Errorf("no CSV files found in %s", dir)
	}

	logger.Info("Price data loaded", zap.Int("symbols", loaded), zap.String("dir", dir))
	return provider, nil
}

func loadCSVFile(path string) ([]types.PriceBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	bars := make([]types.PriceBar, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) < 2 {
			return nil, fmt.Errorf("row %d: expected date,close", i+2)
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		close, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		bars = append(bars, types.PriceBar{Date: date, Close: close})
	}
	return bars, nil
}

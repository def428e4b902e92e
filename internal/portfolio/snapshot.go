package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type snapshotPosition struct {
	Quantity     int64   `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
	HighestPrice float64 `json:"highest_price"`
	LowestPrice  float64 `json:"lowest_price"`
}

type snapshot struct {
	Cash      float64                     `json:"cash"`
	Equity    float64                     `json:"equity"`
	Positions map[string]snapshotPosition `json:"positions"`
}

// Save persists the portfolio document atomically (write to temp, then
// rename). The engine is the sole writer of this file.
func (pf *Portfolio) Save(path string) error {
	snap := snapshot{
		Cash:      pf.Cash,
		Equity:    pf.Equity(),
		Positions: make(map[string]snapshotPosition, len(pf.Positions)),
	}
	for sym, p := range pf.Positions {
		snap.Positions[sym] = snapshotPosition{
			Quantity:     p.Quantity,
			AvgPrice:     p.AvgPrice,
			CurrentPrice: p.CurrentPrice,
			HighestPrice: p.HighestPrice,
			LowestPrice:  p.LowestPrice,
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal portfolio snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".portfolio-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Load restores a portfolio from a prior snapshot. A missing file returns
// a fresh portfolio with the given starting cash.
func Load(path string, startingCash, slippageBps, commissionPerShare float64) (*Portfolio, error) {
	pf := New(startingCash, slippageBps, commissionPerShare)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pf, nil
		}
		return nil, fmt.Errorf("read portfolio snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse portfolio snapshot %s: %w", path, err)
	}

	pf.Cash = snap.Cash
	for sym, sp := range snap.Positions {
		if sp.Quantity == 0 {
			continue
		}
		pf.Positions[sym] = &Position{
			Symbol:       sym,
			Quantity:     sp.Quantity,
			AvgPrice:     sp.AvgPrice,
			CurrentPrice: sp.CurrentPrice,
			HighestPrice: sp.HighestPrice,
			LowestPrice:  sp.LowestPrice,
		}
	}
	return pf, nil
}

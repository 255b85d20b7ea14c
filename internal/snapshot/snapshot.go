// Package snapshot implements the second-pass filter (component C): it
// re-checks price and dollar-volume bounds against the current-session
// snapshot, excluding symbols whose pre-market activity now violates
// bounds that held at the grouped-daily fetch, then caps the surviving
// list at UNIVERSE_K while preserving input order.
package snapshot

import (
	"context"

	"github.com/flipper1994/discovery-engine/internal/models"
	"github.com/flipper1994/discovery-engine/internal/universe"
)

// fetcher is the subset of the upstream client the filter depends on.
type fetcher interface {
	SnapshotAll(ctx context.Context) (map[models.Symbol]models.Snapshot, error)
}

// Filter applies the snapshot re-check and UNIVERSE_K cap.
type Filter struct {
	client fetcher

	priceMin      float64
	priceMax      float64
	minDollarVolM float64
	universeK     int
}

// New builds a Filter against client with the given bounds and cap.
func New(client fetcher, priceMin, priceMax, minDollarVolM float64, universeK int) *Filter {
	return &Filter{
		client:        client,
		priceMin:      priceMin,
		priceMax:      priceMax,
		minDollarVolM: minDollarVolM,
		universeK:     universeK,
	}
}

// Apply re-checks entries against the current snapshot and returns the
// surviving snapshots, capped at UNIVERSE_K, in input order.
func (f *Filter) Apply(ctx context.Context, entries []universe.Entry) ([]models.Snapshot, error) {
	snaps, err := f.client.SnapshotAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Snapshot, 0, len(entries))
	for _, e := range entries {
		snap, ok := snaps[e.Symbol]
		if !ok {
			continue
		}
		if snap.LastPrice < f.priceMin || snap.LastPrice > f.priceMax {
			continue
		}
		if snap.DayVolume > 0 {
			dollarVol := snap.LastPrice * snap.DayVolume
			if dollarVol < f.minDollarVolM*1_000_000 {
				continue
			}
		}
		out = append(out, snap)
		if len(out) >= f.universeK {
			break
		}
	}
	return out, nil
}

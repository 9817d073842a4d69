// Package oracle normalizes an upstream price feed into the integer scale
// used by the winning-threshold comparison at settlement time.
package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/coinduel/internal/domain"
)

// Adapter converts the upstream (price, decimals) pair into a whole-unit
// integer price. It holds no state beyond the feed reference and never
// caches: every CurrentPrice call re-queries the feed live, because a stale
// or zero price would deterministically and incorrectly award the
// stable-asset party.
type Adapter struct {
	feed domain.PriceFeed
}

// New creates an Adapter over the given feed.
func New(feed domain.PriceFeed) *Adapter {
	return &Adapter{feed: feed}
}

// CurrentPrice queries the feed and returns the price scaled down to whole
// units (the scale of the winning-threshold constant). It fails with
// domain.ErrBadPrice when the feed is unavailable, the raw value is not
// strictly positive, or the normalized value overflows int64.
func (a *Adapter) CurrentPrice(ctx context.Context) (int64, error) {
	raw, decimals, err := a.feed.LatestPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("oracle: query feed: %w: %w", domain.ErrBadPrice, err)
	}
	if raw == nil || raw.Sign() <= 0 {
		return 0, fmt.Errorf("oracle: non-positive feed value %v: %w", raw, domain.ErrBadPrice)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	normalized := new(big.Int).Quo(raw, scale)

	if !normalized.IsInt64() {
		return 0, fmt.Errorf("oracle: normalized price %s overflows: %w", normalized, domain.ErrBadPrice)
	}
	if normalized.Sign() <= 0 {
		// A positive raw value below one whole unit truncates to zero, which
		// is still unusable for the threshold comparison.
		return 0, fmt.Errorf("oracle: normalized price is zero: %w", domain.ErrBadPrice)
	}

	return normalized.Int64(), nil
}

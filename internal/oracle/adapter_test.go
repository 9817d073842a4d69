package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/alanyoungcy/coinduel/internal/domain"
)

// fakeFeed returns a scripted price/decimals pair or an error.
type fakeFeed struct {
	price    *big.Int
	decimals uint8
	err      error
	calls    int
}

func (f *fakeFeed) LatestPrice(ctx context.Context) (*big.Int, uint8, error) {
	f.calls++
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.price, f.decimals, nil
}

func TestCurrentPrice_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals uint8
		want     int64
	}{
		{"eight decimals", "104231500000000", 8, 1042315},
		{"truncates fraction", "104231599999999", 8, 1042315},
		{"zero decimals", "1042315", 0, 1042315},
		{"single unit", "100000000", 8, 1},
		{"six decimals", "999999123456", 6, 999999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tt.raw, 10)
			if !ok {
				t.Fatalf("bad raw fixture %q", tt.raw)
			}
			a := New(&fakeFeed{price: raw, decimals: tt.decimals})

			got, err := a.CurrentPrice(context.Background())
			if err != nil {
				t.Fatalf("CurrentPrice: %v", err)
			}
			if got != tt.want {
				t.Errorf("CurrentPrice = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCurrentPrice_UnusableValues(t *testing.T) {
	tests := []struct {
		name string
		feed *fakeFeed
	}{
		{"feed error", &fakeFeed{err: errors.New("rpc timeout")}},
		{"nil price", &fakeFeed{price: nil, decimals: 8}},
		{"zero price", &fakeFeed{price: big.NewInt(0), decimals: 8}},
		{"negative price", &fakeFeed{price: big.NewInt(-5), decimals: 8}},
		{"truncates to zero", &fakeFeed{price: big.NewInt(99_999_999), decimals: 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.feed)
			_, err := a.CurrentPrice(context.Background())
			if !errors.Is(err, domain.ErrBadPrice) {
				t.Errorf("CurrentPrice error = %v, want ErrBadPrice", err)
			}
		})
	}
}

func TestCurrentPrice_RequeriesEveryCall(t *testing.T) {
	feed := &fakeFeed{price: big.NewInt(2_000_000_00000000), decimals: 8}
	a := New(feed)

	for i := 0; i < 3; i++ {
		if _, err := a.CurrentPrice(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if feed.calls != 3 {
		t.Errorf("feed queried %d times, want 3 (no caching)", feed.calls)
	}
}

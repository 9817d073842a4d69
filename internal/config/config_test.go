package config

import (
	"strings"
	"testing"
)

// valid returns a Defaults() config patched to pass validation.
func valid() Config {
	cfg := Defaults()
	cfg.Operator.PrivateKey = "0xabc123"
	cfg.Wager.StableTokenAddr = "0x1111111111111111111111111111111111111111"
	cfg.Wager.VolatileTokenAddr = "0x2222222222222222222222222222222222222222"
	cfg.Wager.PriceFeedAddr = "0x3333333333333333333333333333333333333333"
	return cfg
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "batch" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }, "unknown log_level"},
		{"zero window", func(c *Config) { c.Wager.Window.Duration = 0 }, "window must be positive"},
		{"bad stable amount", func(c *Config) { c.Wager.StableAmount = "ten" }, "stable_amount"},
		{"negative volatile amount", func(c *Config) { c.Wager.VolatileAmount = "-5" }, "volatile_amount"},
		{"zero threshold", func(c *Config) { c.Wager.Threshold = 0 }, "threshold must be positive"},
		{"missing token addr", func(c *Config) { c.Wager.StableTokenAddr = "" }, "stable_token_addr"},
		{"missing feed addr", func(c *Config) { c.Wager.PriceFeedAddr = "" }, "price_feed_addr"},
		{"missing operator key", func(c *Config) { c.Operator.PrivateKey = "" }, "operator"},
		{
			"encrypted key without password",
			func(c *Config) {
				c.Operator.PrivateKey = ""
				c.Operator.EncryptedKeyPath = "/keys/op.json"
			},
			"key_password is required",
		},
		{"bad db port", func(c *Config) { c.Database.Port = 70000 }, "port must be 1-65535"},
		{"pool min over max", func(c *Config) { c.Database.PoolMinConns = 99 }, "pool_min_conns"},
		{"kafka enabled without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, "brokers"},
		{"s3 enabled without bucket", func(c *Config) { c.S3.Enabled = true; c.S3.Bucket = "" }, "bucket"},
		{"zero settler interval", func(c *Config) { c.Settler.Interval.Duration = 0 }, "settler: interval"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestWagerAmounts_ParseToBaseUnits(t *testing.T) {
	cfg := Defaults()
	stable, ok := cfg.Wager.StableAmountInt()
	if !ok || stable.String() != "10000000000" {
		t.Fatalf("stable amount = %v ok=%v", stable, ok)
	}
	volatile, ok := cfg.Wager.VolatileAmountInt()
	if !ok || volatile.String() != "10000000" {
		t.Fatalf("volatile amount = %v ok=%v", volatile, ok)
	}
}

package node

import "testing"

func TestDefaultConfigIsValid(t *testing.T) {
	if err := ValidateConfig(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateConfigRejections(t *testing.T) {
	base := DefaultConfig()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty network", func(c *Config) { c.Network = " " }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty outbox dir", func(c *Config) { c.OutboxDir = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
		{"zero confirmations", func(c *Config) { c.Confirmations = 0 }},
		{"excessive confirmations", func(c *Config) { c.Confirmations = 200 }},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if err := ValidateConfig(cfg); err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
}

func TestValidateConfigLogLevelCaseInsensitive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "  WARN "
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("mixed-case log level rejected: %v", err)
	}
}

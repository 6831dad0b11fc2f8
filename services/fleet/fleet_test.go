package main

import (
	"testing"

	"github.com/pretendo-dev/pretendo/core/config"
)

func TestConfigurationParses(t *testing.T) {
	cfg, err := config.Parse([]byte(configurationJSON))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Options.Database.Adapter != "memory" {
		t.Fatalf("adapter: got %q, the real one is injected at startup", cfg.Options.Database.Adapter)
	}
	if _, ok := cfg.Resource("vehicles"); !ok {
		t.Fatal("vehicles resource missing")
	}
}

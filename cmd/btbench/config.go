package main

import (
	"github.com/BurntSushi/toml"
	"github.com/tgc/tpie/blocks"
)

// benchConfig is the bench subcommand configuration, optionally loaded
// from a TOML file. Parameter overrides apply only when both maxima are
// set; an unset minimum defaults to ceil((max+3)/4), the tree's own rule.
type benchConfig struct {
	Scale     int    `toml:"scale"`
	BlockSize int    `toml:"block_size"`
	CSV       string `toml:"csv"`
	Plot      string `toml:"plot"`

	NodeMin uint64 `toml:"node_min"`
	NodeMax uint64 `toml:"node_max"`
	LeafMin uint64 `toml:"leaf_min"`
	LeafMax uint64 `toml:"leaf_max"`
}

func loadConfig(path string) (benchConfig, error) {
	cfg := benchConfig{
		Scale:     100000,
		BlockSize: blocks.DefaultBlockSize,
		CSV:       "bench_results.csv",
		Plot:      "bench_latency.png",
	}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	if cfg.NodeMax > 0 && cfg.NodeMin == 0 {
		cfg.NodeMin = (cfg.NodeMax + 6) / 4
	}
	if cfg.LeafMax > 0 && cfg.LeafMin == 0 {
		cfg.LeafMin = (cfg.LeafMax + 6) / 4
	}
	return cfg, nil
}

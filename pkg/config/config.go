package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Tree    TreeConfig    `yaml:"tree"`
	Router  RouterConfig  `yaml:"router"`
	System  SystemConfig  `yaml:"system"`
}

type StorageConfig struct {
	Path           string `yaml:"path"`
	BlockSize      int    `yaml:"block_size"`       // page size in bytes
	BlocksInMemory int    `yaml:"blocks_in_memory"` // cache capacity per tree, in pages
}

type TreeConfig struct {
	SortedSplitFrac   float64 `yaml:"sorted_split_frac"`   // share kept in the left leaf on sorted-tree splits
	UnsortedSplitFrac float64 `yaml:"unsorted_split_frac"` // same for the unsorted tree
	AllowSortedInsert bool    `yaml:"allow_sorted_insert"` // permit inserts into the tail leaf's interior
}

type RouterConfig struct {
	HeapSize            int     `yaml:"heap_size"`             // staging buffer capacity, 0 disables
	InitTolerance       float64 `yaml:"init_tolerance"`        // outlier tolerance factor at start
	MinTolerance        float64 `yaml:"min_tolerance"`         // floor for the tolerance factor
	ExpectedAvgDistance float64 `yaml:"expected_avg_distance"` // expected mean key gap of the sorted run
	QueryBufferSize     int     `yaml:"query_buffer_size"`     // MRU predictor window, 0 disables
}

type SystemConfig struct {
	BloomSize      uint    `yaml:"bloom_size"`
	BloomFalseProb float64 `yaml:"bloom_false_prob"`
}

func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/duodb.yaml", "duodb.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the built-in knob values. yaml fields absent from a config
// file keep these values, so zero-meaningful knobs (heap_size: 0,
// query_buffer_size: 0, allow_sorted_insert: false) stay expressible.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:           "duodb_data",
			BlockSize:      4096,
			BlocksInMemory: 10000,
		},
		Tree: TreeConfig{
			SortedSplitFrac:   0.95,
			UnsortedSplitFrac: 0.5,
			AllowSortedInsert: true,
		},
		Router: RouterConfig{
			HeapSize:            16,
			InitTolerance:       100,
			MinTolerance:        20,
			ExpectedAvgDistance: 2.5,
			QueryBufferSize:     10,
		},
		System: SystemConfig{
			BloomSize:      100000,
			BloomFalseProb: 0.01,
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.BlockSize <= 0 {
		cfg.Storage.BlockSize = 4096
	}
	if cfg.Storage.BlocksInMemory <= 0 {
		cfg.Storage.BlocksInMemory = 10000
	}
	if cfg.Tree.SortedSplitFrac <= 0 || cfg.Tree.SortedSplitFrac > 1 {
		cfg.Tree.SortedSplitFrac = 0.95
	}
	if cfg.Tree.UnsortedSplitFrac <= 0 || cfg.Tree.UnsortedSplitFrac > 1 {
		cfg.Tree.UnsortedSplitFrac = 0.5
	}
	if cfg.Router.HeapSize < 0 {
		cfg.Router.HeapSize = 0
	}
	if cfg.Router.MinTolerance < 0 {
		cfg.Router.MinTolerance = 0
	}
	if cfg.Router.QueryBufferSize < 0 {
		cfg.Router.QueryBufferSize = 0
	}
	if cfg.System.BloomSize == 0 {
		cfg.System.BloomSize = 100000
	}
	if cfg.System.BloomFalseProb <= 0 || cfg.System.BloomFalseProb >= 1 {
		cfg.System.BloomFalseProb = 0.01
	}
}

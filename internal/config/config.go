// Package config loads the core's configuration from a YAML file with
// sensible defaults, in the shape the cmd entry points expect.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/memory"
	"github.com/quarrylabs/quarry/internal/prompt"
)

// Config is the full configuration tree.
type Config struct {
	// DataDir holds the persisted artifacts: index snapshot, memory
	// database, permanent notes.
	DataDir string `yaml:"data_dir"`

	Chunker   ChunkerConfig    `yaml:"chunker"`
	Embedding embedding.Config `yaml:"embedding"`
	Index     IndexConfig      `yaml:"index"`
	Memory    memory.Config    `yaml:"memory"`
	Prompt    prompt.Config    `yaml:"prompt"`
	Providers ProvidersConfig  `yaml:"providers"`
	Retrieval RetrievalConfig  `yaml:"retrieval"`
}

// ChunkerConfig sizes the chunk windows.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// IndexConfig tunes the vector index.
type IndexConfig struct {
	ApproxThreshold int `yaml:"approx_threshold"`
	NProbe          int `yaml:"nprobe"`
}

// RetrievalConfig bounds document retrieval per query.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// ProvidersConfig is the ordered generation backend list. Each backend's
// config block is an opaque map the core never validates; credentials are
// the provider's own business.
type ProvidersConfig struct {
	// Order is the failover order. Known kinds: openai, anthropic, ollama.
	Order []string `yaml:"order"`

	// Timeout bounds each individual provider call.
	Timeout time.Duration `yaml:"timeout"`

	// Settings maps provider kind to its opaque config.
	Settings map[string]map[string]string `yaml:"settings"`
}

// Default returns the defaults used when no file or key is present.
func Default() *Config {
	return &Config{
		DataDir: "data",
		Chunker: ChunkerConfig{
			Size:    800,
			Overlap: 120,
		},
		Embedding: embedding.DefaultConfig(),
		Index: IndexConfig{
			ApproxThreshold: 10_000,
			NProbe:          8,
		},
		Memory:  memory.DefaultConfig(),
		Prompt:  prompt.DefaultConfig(),
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
		Providers: ProvidersConfig{
			Order:   []string{"openai", "anthropic", "ollama"},
			Timeout: 60 * time.Second,
		},
	}
}

// Load reads path over the defaults. A missing file returns the defaults;
// a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyPaths()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyPaths()
	return cfg, nil
}

// applyPaths derives artifact paths from DataDir when not set explicitly.
func (c *Config) applyPaths() {
	if c.Memory.DBPath == "" {
		c.Memory.DBPath = filepath.Join(c.DataDir, "memory.db")
	}
	if c.Memory.PermanentPath == "" {
		c.Memory.PermanentPath = filepath.Join(c.DataDir, "permanent.txt")
	}
}

// IndexPath is the vector index snapshot location.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.gob")
}

// Package config handles onnxtool configuration.
//
// Configuration is resolved from three layers, lowest precedence first:
//
//  1. Built-in defaults (the historical fixed paths of the tool)
//  2. An optional YAML config file
//  3. ONNXTOOL_* environment variables
//
// Command-line flags are applied on top by the CLI and win over everything.
//
// Environment Variables:
//   - ONNXTOOL_INPUT        input model path (default "TCGA3.onnx")
//   - ONNXTOOL_OUTPUT       output model path (default "TCGA3_modified.onnx")
//   - ONNXTOOL_PREFIX       generated name prefix (default "node")
//   - ONNXTOOL_CATALOG_DIR  catalog directory; empty disables the catalog
//
// Example:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Built-in defaults. The input and output paths match the tool's original
// hardcoded behavior, so a run with no configuration at all still renames
// TCGA3.onnx into TCGA3_modified.onnx.
const (
	DefaultInput  = "TCGA3.onnx"
	DefaultOutput = "TCGA3_modified.onnx"
	DefaultPrefix = "node"
)

// Config holds the resolved settings for a run.
type Config struct {
	// Input is the model file to read.
	Input string `yaml:"input"`
	// Output is the file the renamed model is written to.
	Output string `yaml:"output"`
	// Prefix for generated node names.
	Prefix string `yaml:"prefix"`
	// CatalogDir is the Badger catalog directory. Empty disables
	// recording, which is the default: a plain rename run touches no
	// files beyond the input and output models.
	CatalogDir string `yaml:"catalog_dir"`
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Input:  DefaultInput,
		Output: DefaultOutput,
		Prefix: DefaultPrefix,
	}
}

// Load resolves configuration from defaults, the YAML file at path (skipped
// when path is empty), and the environment, in that order.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	c.applyEnv()
	return c, nil
}

// LoadFromEnv resolves configuration from defaults and the environment only.
func LoadFromEnv() *Config {
	c := Default()
	c.applyEnv()
	return c
}

func (c *Config) applyEnv() {
	c.Input = getEnv("ONNXTOOL_INPUT", c.Input)
	c.Output = getEnv("ONNXTOOL_OUTPUT", c.Output)
	c.Prefix = getEnv("ONNXTOOL_PREFIX", c.Prefix)
	c.CatalogDir = getEnv("ONNXTOOL_CATALOG_DIR", c.CatalogDir)
}

// Validate reports the first problem with the configuration.
func (c *Config) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("input path must not be empty")
	}
	if c.Output == "" {
		return fmt.Errorf("output path must not be empty")
	}
	if c.Prefix == "" {
		return fmt.Errorf("name prefix must not be empty")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envConfig = "MANGAQUANT_CONFIG"

// Config represents the config file (~/.config/mangaquant/config.yaml).
// Every field only applies when the matching flag was not given.
type Config struct {
	ProjectRoot string `yaml:"project_root"`

	// Quantization
	WeightType   string   `yaml:"weight_type"`
	Backend      string   `yaml:"backend"`
	Python       string   `yaml:"python"`
	ReduceRange  *bool    `yaml:"reduce_range"`
	OpTypes      []string `yaml:"op_types"`
	ExcludeNodes []string `yaml:"exclude_nodes"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	MaxBody       *int64 `yaml:"max_body"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mangaquant", "config.yaml")
}

// loadConfig reads path. A missing file is an empty config.
func loadConfig(path string) (Config, error) {
	if path == "" {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyGlobalConfig applies config defaults to the root flags.
func applyGlobalConfig(c *cli.Command, cfg Config, s *settings) {
	if cfg.ProjectRoot != "" && !c.IsSet("project-root") {
		s.projectRoot = cfg.ProjectRoot
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		s.logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		s.logFormat = cfg.LogFormat
	}
}

// applyQuantizeConfig applies config defaults to the quantize flags.
func applyQuantizeConfig(c *cli.Command, cfg Config, s *settings) {
	if cfg.WeightType != "" && !c.IsSet("weight-type") {
		s.weightType = cfg.WeightType
	}
	if cfg.Backend != "" && !c.IsSet("backend") {
		s.backend = cfg.Backend
	}
	if cfg.Python != "" && !c.IsSet("python") {
		s.python = cfg.Python
	}
	if cfg.ReduceRange != nil && !c.IsSet("reduce-range") {
		s.reduceRange = *cfg.ReduceRange
	}
	if len(cfg.OpTypes) > 0 && !c.IsSet("op-types") {
		s.opTypes = cfg.OpTypes
	}
	if len(cfg.ExcludeNodes) > 0 && !c.IsSet("exclude-nodes") {
		s.excludeNodes = cfg.ExcludeNodes
	}
}

// applyServeConfig applies config defaults to the serve flags and the
// quantization defaults the server hands to every request.
func applyServeConfig(c *cli.Command, cfg Config, s *settings, addr *string, maxBody *int64) {
	if cfg.WeightType != "" && !c.IsSet("weight-type") {
		s.weightType = cfg.WeightType
	}
	if cfg.ReduceRange != nil && !c.IsSet("reduce-range") {
		s.reduceRange = *cfg.ReduceRange
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.MaxBody != nil && !c.IsSet("max-body") {
		*maxBody = *cfg.MaxBody
	}
}

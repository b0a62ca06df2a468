package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/shellpool/internal/config"
)

// cliConfig holds shellctl-only settings from the [cli] table. Keys left out
// of the file keep their defaults.
type cliConfig struct {
	Pool    string
	Safe    bool
	Timeout time.Duration
}

type fileConfig struct {
	CLI struct {
		Pool    string `toml:"pool"`
		Safe    bool   `toml:"safe"`
		Timeout string `toml:"timeout"`
	} `toml:"cli"`
}

func defaultCLIConfig() cliConfig {
	return cliConfig{Pool: "auto"}
}

// loadConfig returns the shared config and the cli overlay. An empty path
// yields defaults for both.
func loadConfig(path string) (config.Config, cliConfig, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), defaultCLIConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, cliConfig{}, err
	}
	cli, err := loadCLIConfig(path)
	if err != nil {
		return config.Config{}, cliConfig{}, err
	}
	return cfg, cli, nil
}

func loadCLIConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load shellctl config: %w", err)
	}

	if meta.IsDefined("cli", "pool") {
		pool := strings.ToLower(strings.TrimSpace(raw.CLI.Pool))
		if pool != "" {
			cfg.Pool = pool
		}
	}

	if meta.IsDefined("cli", "safe") {
		cfg.Safe = raw.CLI.Safe
	}

	if meta.IsDefined("cli", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CLI.Timeout))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse cli.timeout: %w", err)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}

func writeConfig(w io.Writer, cfg config.Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

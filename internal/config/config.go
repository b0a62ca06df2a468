package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the on-disk shellctl configuration.
type Config struct {
	Install InstallConfig `toml:"install"`
	Shell   ShellConfig   `toml:"shell"`
	SSH     SSHConfig     `toml:"ssh"`
	Server  ServerConfig  `toml:"server"`
}

type InstallConfig struct {
	// Executable skips extraction when set to an already installed binary.
	Executable    string `toml:"executable"`
	WorkspaceRoot string `toml:"workspace_root"`
	InstallRoot   string `toml:"install_root"`
	Name          string `toml:"name"`
	Asset         string `toml:"asset"`
}

type ShellConfig struct {
	Privileged   []string `toml:"privileged"`
	Unprivileged []string `toml:"unprivileged"`
	Dir          string   `toml:"dir"`
	Env          []string `toml:"env"`
	ExecTimeout  string   `toml:"exec_timeout"`
	ProbeTimeout string   `toml:"probe_timeout"`
	MaxProcesses int      `toml:"max_processes"`
	SyncStderr   bool     `toml:"sync_stderr"`
}

type SSHConfig struct {
	Host           string `toml:"host"`
	Port           string `toml:"port"`
	User           string `toml:"user"`
	KeyPath        string `toml:"key_path"`
	KnownHostsPath string `toml:"known_hosts_path"`
	Insecure       bool   `toml:"insecure_skip_host_key_checking"`
	Timeout        string `toml:"timeout"`
}

type ServerConfig struct {
	ID          string   `toml:"id"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Install: InstallConfig{
			InstallRoot: "local/bin",
			Name:        "busybox",
		},
		Shell: ShellConfig{
			Privileged:   []string{"su"},
			Unprivileged: []string{"sh"},
			ExecTimeout:  "30s",
			ProbeTimeout: "5s",
			SyncStderr:   true,
		},
		Server: ServerConfig{
			ID:   "shellpool",
			Addr: ":9200",
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func Validate(cfg Config) error {
	if err := ValidateShell(cfg.Shell); err != nil {
		return fmt.Errorf("shell invalid: %w", err)
	}
	if err := ValidateSSH(cfg.SSH); err != nil {
		return fmt.Errorf("ssh invalid: %w", err)
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("server config missing addr")
	}
	if strings.TrimSpace(cfg.Install.Executable) == "" && strings.TrimSpace(cfg.Install.Name) == "" {
		return fmt.Errorf("install config needs executable or name")
	}
	return nil
}

func ValidateShell(cfg ShellConfig) error {
	if len(cfg.Privileged) == 0 || strings.TrimSpace(cfg.Privileged[0]) == "" {
		return fmt.Errorf("privileged shell argv is required")
	}
	if len(cfg.Unprivileged) == 0 || strings.TrimSpace(cfg.Unprivileged[0]) == "" {
		return fmt.Errorf("unprivileged shell argv is required")
	}
	if cfg.MaxProcesses < 0 {
		return fmt.Errorf("max_processes must not be negative")
	}
	if _, err := parseDuration("exec_timeout", cfg.ExecTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("probe_timeout", cfg.ProbeTimeout); err != nil {
		return err
	}
	return nil
}

// ValidateSSH accepts an empty section; a configured host needs user and key.
func ValidateSSH(cfg SSHConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil
	}
	if strings.TrimSpace(cfg.User) == "" {
		return fmt.Errorf("user is required when host is set")
	}
	if strings.TrimSpace(cfg.KeyPath) == "" {
		return fmt.Errorf("key_path is required when host is set")
	}
	if _, err := parseDuration("timeout", cfg.Timeout); err != nil {
		return err
	}
	return nil
}

// parseDuration treats an empty value as zero (no limit).
func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

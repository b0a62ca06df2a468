package config

import (
	"github.com/danmuck/shellpool/internal/install"
	"github.com/danmuck/shellpool/internal/shell"
	"github.com/danmuck/shellpool/internal/toolbox"
)

// InstallerConfig maps the install section onto the installer.
func (c Config) InstallerConfig() install.Config {
	return install.Config{
		WorkspaceRoot: c.Install.WorkspaceRoot,
		InstallRoot:   c.Install.InstallRoot,
		Name:          c.Install.Name,
		AssetPath:     c.Install.Asset,
	}
}

// Spawner returns the SSH spawner when a remote host is configured and the
// local spawner otherwise.
func (c Config) Spawner() (shell.Spawner, error) {
	argv := map[shell.Kind][]string{
		shell.Privileged:   c.Shell.Privileged,
		shell.Unprivileged: c.Shell.Unprivileged,
	}
	if c.SSH.Host == "" {
		return shell.LocalSpawner{Argv: argv, Dir: c.Shell.Dir, Env: c.Shell.Env}, nil
	}
	timeout, err := parseDuration("timeout", c.SSH.Timeout)
	if err != nil {
		return nil, err
	}
	return &shell.SSHSpawner{
		Host:                        c.SSH.Host,
		Port:                        c.SSH.Port,
		User:                        c.SSH.User,
		KeyPath:                     c.SSH.KeyPath,
		KnownHostsPath:              c.SSH.KnownHostsPath,
		InsecureSkipHostKeyChecking: c.SSH.Insecure,
		Timeout:                     timeout,
		Argv:                        argv,
	}, nil
}

// ToolboxConfig builds the facade configuration for a resolved executable.
func (c Config) ToolboxConfig(executablePath string) (toolbox.Config, error) {
	spawner, err := c.Spawner()
	if err != nil {
		return toolbox.Config{}, err
	}
	execTimeout, err := parseDuration("exec_timeout", c.Shell.ExecTimeout)
	if err != nil {
		return toolbox.Config{}, err
	}
	probeTimeout, err := parseDuration("probe_timeout", c.Shell.ProbeTimeout)
	if err != nil {
		return toolbox.Config{}, err
	}

	cfg := toolbox.DefaultConfig(executablePath)
	for _, pool := range []*shell.Config{&cfg.Privileged, &cfg.Unprivileged} {
		pool.Spawner = spawner
		pool.ExecTimeout = execTimeout
		pool.ProbeTimeout = probeTimeout
		pool.MaxProcesses = c.Shell.MaxProcesses
		pool.SyncStderr = c.Shell.SyncStderr
	}
	return cfg, nil
}

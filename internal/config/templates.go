package config

import (
	"fmt"
	"os"
)

func Template() string {
	return shellctlTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(shellctlTemplate), 0o600)
}

const shellctlTemplate = `[install]
# executable = "/data/local/bin/busybox"
install_root = "local/bin"
name = "busybox"
asset = "assets/busybox"

[shell]
privileged = ["su"]
unprivileged = ["sh"]
exec_timeout = "30s"
probe_timeout = "5s"
max_processes = 0
sync_stderr = true

[ssh]
# host = "raspberrypi"
# user = "pi"
# key_path = "~/.ssh/id_ed25519"
# timeout = "10s"

[server]
id = "shellpool"
addr = ":9200"
cors_origins = ["http://localhost:3000"]
`

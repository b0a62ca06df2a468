package shell

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/shellpool/internal/testutil/testlog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshFixture is an in-process SSH server that runs exec requests with the
// local sh.
type sshFixture struct {
	host    string
	port    string
	hostKey ssh.PublicKey
	keyPath string
	conns   atomic.Int32
}

func startSSHFixture(t *testing.T) *sshFixture {
	t.Helper()
	requireShell(t)

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("client key: %v", err)
	}
	authorized, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write client key: %v", err)
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}

	fx := &sshFixture{host: host, port: port, hostKey: hostSigner.PublicKey(), keyPath: keyPath}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fx.conns.Add(1)
			go serveSSHConn(conn, config)
		}
	}()
	return fx
}

func (fx *sshFixture) knownHosts(t *testing.T, key ssh.PublicKey) string {
	t.Helper()
	line := knownhosts.Line([]string{knownhosts.Normalize(net.JoinHostPort(fx.host, fx.port))}, key)
	path := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	return path
}

func (fx *sshFixture) spawner(t *testing.T) *SSHSpawner {
	t.Helper()
	s := &SSHSpawner{
		Host:           fx.host,
		Port:           fx.port,
		User:           "pool",
		KeyPath:        fx.keyPath,
		KnownHostsPath: fx.knownHosts(t, fx.hostKey),
		Timeout:        5 * time.Second,
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func serveSSHConn(conn net.Conn, config *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		_ = conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			continue
		}
		go serveSSHSession(ch, chReqs)
	}
}

func serveSSHSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	var cmd *exec.Cmd
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || cmd != nil {
				_ = req.Reply(false, nil)
				continue
			}
			cmd = exec.Command("sh", "-c", payload.Command)
			cmd.Stdout = ch
			cmd.Stderr = ch.Stderr()
			stdin, err := cmd.StdinPipe()
			if err != nil || cmd.Start() != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				_, _ = io.Copy(stdin, ch)
				_ = stdin.Close()
			}()
			go func(cmd *exec.Cmd) {
				var status uint32
				if err := cmd.Wait(); err != nil {
					status = 1
				}
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				_ = ch.Close()
			}(cmd)
		case "signal":
			if cmd != nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func TestSSHSpawnerSharesOneConnection(t *testing.T) {
	testlog.Start(t)
	fx := startSSHFixture(t)
	spawner := fx.spawner(t)
	p := newTestPool(t, func(cfg *Config) {
		cfg.Spawner = spawner
	})
	ctx := context.Background()

	lines, err := p.Execute(ctx, "echo a", "echo b")
	if err != nil || len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Fatalf("unexpected lines=%q err=%v", lines, err)
	}

	first, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire first: %v", err)
	}
	second, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire second: %v", err)
	}
	p.Release(first)
	p.Release(second)
	if p.Size() != 2 {
		t.Fatalf("expected two remote shells, size=%d", p.Size())
	}

	_, err = p.Execute(ctx, "echo remote-bad >&2")
	var cmdErr *CommandError
	if !errorsAs(err, &cmdErr) || cmdErr.Error() != "remote-bad" {
		t.Fatalf("expected CommandError remote-bad, got %v", err)
	}

	if got := fx.conns.Load(); got != 1 {
		t.Fatalf("expected one ssh connection, got %d", got)
	}
}

func TestSSHSpawnerResetKillsSessionsKeepsConnection(t *testing.T) {
	testlog.Start(t)
	fx := startSSHFixture(t)
	spawner := fx.spawner(t)
	p := newTestPool(t, func(cfg *Config) {
		cfg.Spawner = spawner
	})
	ctx := context.Background()

	proc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(proc)
	p.Reset()
	waitFor(t, "remote shell exit", proc.HasExited)

	lines, err := p.Execute(ctx, "echo again")
	if err != nil || len(lines) != 1 || lines[0] != "again" {
		t.Fatalf("unexpected lines=%q err=%v", lines, err)
	}
	if got := fx.conns.Load(); got != 1 {
		t.Fatalf("expected the connection to survive reset, got %d dials", got)
	}
}

func TestSSHSpawnerRedialsAfterClose(t *testing.T) {
	testlog.Start(t)
	fx := startSSHFixture(t)
	spawner := fx.spawner(t)
	p := newTestPool(t, func(cfg *Config) {
		cfg.Spawner = spawner
	})
	ctx := context.Background()

	if _, err := p.Execute(ctx, "echo one"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	p.Reset()
	if err := spawner.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines, err := p.Execute(ctx, "echo two")
	if err != nil || len(lines) != 1 || lines[0] != "two" {
		t.Fatalf("unexpected lines=%q err=%v", lines, err)
	}
	if got := fx.conns.Load(); got != 2 {
		t.Fatalf("expected a second dial, got %d", got)
	}
}

func TestSSHSpawnerRejectsUnknownHostKey(t *testing.T) {
	testlog.Start(t)
	fx := startSSHFixture(t)

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("other key: %v", err)
	}
	other, err := ssh.NewPublicKey(otherPub)
	if err != nil {
		t.Fatalf("other public key: %v", err)
	}
	spawner := fx.spawner(t)
	spawner.KnownHostsPath = fx.knownHosts(t, other)

	p := newTestPool(t, func(cfg *Config) {
		cfg.Spawner = spawner
	})
	if _, err := p.Execute(context.Background(), "echo a"); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn for mismatched host key, got %v", err)
	}
	if p.Size() != 0 {
		t.Fatalf("failed spawn must not be tracked, size=%d", p.Size())
	}
}

func TestSSHSpawnerValidatesSettings(t *testing.T) {
	testlog.Start(t)
	cases := map[string]*SSHSpawner{
		"missing host": {User: "pool", KeyPath: "/tmp/key"},
		"missing user": {Host: "127.0.0.1", KeyPath: "/tmp/key"},
		"missing key":  {Host: "127.0.0.1", User: "pool"},
	}
	for name, spawner := range cases {
		if _, err := spawner.Spawn(Unprivileged); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	if got := joinCommand([]string{"su", "-c", "it's"}); got != `'su' '-c' 'it'"'"'s'` {
		t.Fatalf("unexpected remote command: %s", got)
	}
}

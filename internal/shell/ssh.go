package shell

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHSpawner starts pooled shells on a remote host. All shells of a spawner
// share one client connection; each Process owns one session on it. A dropped
// connection is redialled by the next Spawn.
type SSHSpawner struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
	Argv                        map[Kind][]string

	mu     sync.Mutex
	client *ssh.Client
}

func (s *SSHSpawner) Spawn(kind Kind) (*Process, error) {
	session, err := s.newSession()
	if err != nil {
		return nil, err
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := session.Start(joinCommand(argvFor(s.Argv, kind))); err != nil {
		session.Close()
		return nil, fmt.Errorf("start remote shell: %w", err)
	}

	kill := func() error {
		_ = session.Signal(ssh.SIGKILL)
		if err := session.Close(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
	return newProcess(kind, stdin, stdout, stderr, session.Wait, kill), nil
}

// Close drops the shared connection. Live sessions on it end with it.
func (s *SSHSpawner) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// newSession opens a session on the shared client, redialling once when the
// cached connection turns out to be dead.
func (s *SSHSpawner) newSession() (*ssh.Session, error) {
	client, err := s.connect()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err == nil {
		return session, nil
	}

	s.forget(client)
	client, err = s.connect()
	if err != nil {
		return nil, err
	}
	return client.NewSession()
}

func (s *SSHSpawner) connect() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	address, err := s.target()
	if err != nil {
		return nil, err
	}
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}
	client, err := ssh.Dial("tcp", address, config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", address, err)
	}
	s.client = client

	go func() {
		_ = client.Wait()
		s.forget(client)
	}()
	return client, nil
}

func (s *SSHSpawner) forget(client *ssh.Client) {
	s.mu.Lock()
	if s.client == client {
		s.client = nil
	}
	s.mu.Unlock()
	_ = client.Close()
}

// target is host:port, defaulting to port 22 unless Host already has one.
func (s *SSHSpawner) target() (string, error) {
	host := strings.TrimSpace(s.Host)
	switch {
	case host == "":
		return "", errors.New("shell: ssh host is required")
	case s.Port != "":
		return net.JoinHostPort(host, s.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (s *SSHSpawner) clientConfig() (*ssh.ClientConfig, error) {
	if s.User == "" {
		return nil, errors.New("shell: ssh user is required")
	}
	auth, err := s.publicKeyAuth()
	if err != nil {
		return nil, err
	}
	hostKeys, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeys,
		Timeout:         s.Timeout,
	}, nil
}

func (s *SSHSpawner) publicKeyAuth() (ssh.AuthMethod, error) {
	if s.KeyPath == "" {
		return nil, errors.New("shell: ssh key path is required")
	}
	pem, err := os.ReadFile(s.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}

	var signer ssh.Signer
	if len(s.Passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, s.Passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// hostKeyCallback checks against KnownHostsPath, or ~/.ssh/known_hosts when
// unset.
func (s *SSHSpawner) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.InsecureSkipHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := strings.TrimSpace(s.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New("shell: known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

func joinCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

// shellQuote single-quotes value for a POSIX shell.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

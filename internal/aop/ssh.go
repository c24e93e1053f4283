package aop

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/scieloorg/pidmanager/internal/pid"
)

// DefaultConnectTimeout bounds the SSH dial.
const DefaultConnectTimeout = 10 * time.Second

// CommandRunner runs a shell command on a host and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, host, command string) ([]byte, error)
}

// SSHSource reads an ahead-of-print index produced by a command on a remote
// host. The index is fetched once, on the first lookup.
type SSHSource struct {
	Host    string
	Command string
	Runner  CommandRunner

	once  sync.Once
	index *Index
	err   error
}

// NewSSHSource creates a source that runs command on host through the local
// SSH agent.
func NewSSHSource(host, command string) *SSHSource {
	return &SSHSource{
		Host:    host,
		Command: command,
		Runner:  &AgentRunner{ConnectTimeout: DefaultConnectTimeout},
	}
}

// PreviousID implements Resolver.
func (s *SSHSource) PreviousID(ctx context.Context, ids pid.DocumentIdentifiers) (string, error) {
	s.once.Do(func() {
		s.index, s.err = s.fetch(ctx)
	})
	if s.err != nil {
		return "", s.err
	}
	return s.index.PreviousID(ctx, ids)
}

func (s *SSHSource) fetch(ctx context.Context) (*Index, error) {
	out, err := s.Runner.Run(ctx, s.Host, s.Command)
	if err != nil {
		return nil, err
	}
	idx, err := ReadIndex(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("index from %s: %w", s.Host, err)
	}
	return idx, nil
}

// AgentRunner runs commands over SSH authenticating with keys held by the
// agent at SSH_AUTH_SOCK.
type AgentRunner struct {
	ConnectTimeout time.Duration
	User           string
}

// Run implements CommandRunner. host may carry a port; 22 is assumed otherwise.
func (r *AgentRunner) Run(ctx context.Context, host, command string) ([]byte, error) {
	authSock := os.Getenv("SSH_AUTH_SOCK")
	if authSock == "" {
		return nil, fmt.Errorf("SSH agent not running. Start with `eval $(ssh-agent)` and add keys with `ssh-add`")
	}
	conn, err := net.Dial("unix", authSock)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to SSH agent at %s: %w", authSock, err)
	}
	defer conn.Close()

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		return nil, fmt.Errorf("getting SSH agent signers: %w", err)
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("SSH agent has no keys. Add keys with `ssh-add`")
	}

	username := r.User
	if username == "" {
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
	}

	// Host keys are not verified; the index host is internal infrastructure.
	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.ConnectTimeout,
	}

	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, wrapSSHError(err, host)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating SSH session on %s: %w", host, err)
	}
	defer session.Close()

	// Closing the session unblocks Output when ctx ends first.
	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	out, err := session.Output(command)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("running %q on %s: %w", command, host, err)
	}
	return out, nil
}

func wrapSSHError(err error, host string) error {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "no supported methods remain"):
		return fmt.Errorf("SSH authentication failed for %s. Check that your key is authorized", host)
	case strings.Contains(errStr, "i/o timeout") || strings.Contains(errStr, "connection timed out"):
		return fmt.Errorf("connection to %s timed out", host)
	case strings.Contains(errStr, "connection refused"):
		return fmt.Errorf("connection refused by %s: is SSH running on the server?", host)
	default:
		return fmt.Errorf("SSH error connecting to %s: %w", host, err)
	}
}

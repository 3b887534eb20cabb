// Package sshexec runs commands on rented instances over SSH. It exists for
// ssh-mode benchmark runs, where the agent is started interactively instead
// of through the instance's startup script.
package sshexec

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const (
	dialTimeout      = 30 * time.Second
	keepaliveEvery   = 15 * time.Second
	keepaliveRequest = "keepalive@vastmark"
)

// Runner executes commands on remote hosts.
type Runner interface {
	// Run executes command on host:port, streaming combined output to out.
	// The command is terminated when ctx is cancelled.
	Run(ctx context.Context, host string, port int, command string, out io.Writer) error
}

// Compile-time interface check.
var _ Runner = (*runner)(nil)

type runner struct {
	log     logrus.FieldLogger
	user    string
	keyPath string
}

// NewRunner creates an SSH runner authenticating as user with the private
// key at keyPath.
func NewRunner(log logrus.FieldLogger, user, keyPath string) Runner {
	return &runner{
		log:     log.WithField("component", "sshexec"),
		user:    user,
		keyPath: keyPath,
	}
}

// Run executes command on host:port, streaming combined output to out.
func (r *runner) Run(ctx context.Context, host string, port int, command string, out io.Writer) error {
	signer, err := r.loadKey()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	cfg := &ssh.ClientConfig{
		User: r.user,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Marketplace instances have freshly generated host keys; there is
		// nothing to pin them against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer session.Close()

	session.Stdout = out
	session.Stderr = out

	r.log.WithFields(logrus.Fields{
		"addr": addr,
		"user": r.user,
	}).Debug("Running remote command")

	if err := session.Start(command); err != nil {
		return fmt.Errorf("starting remote command: %w", err)
	}

	done := make(chan error, 1)

	go func() {
		done <- session.Wait()
	}()

	keepalive := time.NewTicker(keepaliveEvery)
	defer keepalive.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("remote command failed: %w", err)
			}

			return nil
		case <-keepalive.C:
			// Long benchmark runs produce no traffic while the GPU grinds;
			// keepalives stop NAT boxes from dropping the connection.
			if _, _, err := client.SendRequest(keepaliveRequest, true, nil); err != nil {
				r.log.WithError(err).Warn("SSH keepalive failed")
			}
		case <-ctx.Done():
			// Closing the connection aborts the remote session.
			client.Close()
			<-done

			return ctx.Err()
		}
	}
}

// loadKey reads and parses the configured private key.
func (r *runner) loadKey() (ssh.Signer, error) {
	data, err := os.ReadFile(r.keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key %s: %w", r.keyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key %s: %w", r.keyPath, err)
	}

	return signer, nil
}

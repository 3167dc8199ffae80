package sshrunner

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/claworc/sshgate/internal/hostregistry"
	"github.com/gluk-w/claworc/sshgate/internal/logutil"
	"github.com/gluk-w/claworc/sshgate/internal/protocol"
)

const scpTimeout = 600 * time.Second

// ScpTransfer resolves a named transfer recipe and copies every file in
// the source directory matching the recipe's glob to the destination
// directory (spec.md §4.3, SPEC_FULL.md Open Question #3 — there is no
// true server-to-server SCP modeled anywhere in the reference corpus, so
// the gateway process itself relays the bytes). The source leg is driven
// over the Runner's own connection, the one the caller already
// established with Connect; only the destination leg needs a fresh
// short-lived dial.
func (r *Runner) ScpTransfer(ctx context.Context, transferName string, sink OutputSink) (Outcome, error) {
	r.mu.Lock()
	if err := r.requireConnected(); err != nil {
		r.mu.Unlock()
		return "", err
	}
	client := r.client
	connectedAlias := r.hostAlias
	r.phase = PhaseTransferring
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.phase == PhaseTransferring {
			r.phase = PhaseConnected
		}
		r.mu.Unlock()
	}()

	recipe, err := r.registry.ResolveTransfer(transferName)
	if err != nil {
		return "", protocol.NewError(protocol.CodeSCPFailed, "unknown transfer recipe", logutil.SanitizeForLog(transferName))
	}

	if connectedAlias != recipe.SourceAlias {
		return "", protocol.NewError(protocol.CodeSCPFailed, "connected host does not match transfer source",
			fmt.Sprintf("connected=%s source=%s", logutil.SanitizeForLog(connectedAlias), logutil.SanitizeForLog(recipe.SourceAlias)))
	}
	dstHost, err := r.registry.ResolveHost(recipe.DestAlias)
	if err != nil {
		return "", protocol.NewError(protocol.CodeSCPFailed, "unknown destination alias", logutil.SanitizeForLog(recipe.DestAlias))
	}

	ctx, cancel := context.WithTimeout(ctx, scpTimeout)
	defer cancel()

	dstConn, err := dialSSH(ctx, dstHost)
	if err != nil {
		return "", protocol.NewError(protocol.CodeSCPFailed, "destination dial failed", err.Error())
	}
	defer dstConn.Close()

	srcSFTP, err := sftp.NewClient(client)
	if err != nil {
		return "", protocol.NewError(protocol.CodeSCPFailed, "source sftp failed", err.Error())
	}
	defer srcSFTP.Close()

	dstSFTP, err := sftp.NewClient(dstConn)
	if err != nil {
		return "", protocol.NewError(protocol.CodeSCPFailed, "destination sftp failed", err.Error())
	}
	defer dstSFTP.Close()

	entries, err := srcSFTP.ReadDir(path.Dir(recipe.SourcePathGlob))
	if err != nil {
		return "", protocol.NewError(protocol.CodeSCPFailed, "list source directory failed", err.Error())
	}

	pattern := path.Base(recipe.SourcePathGlob)
	var matched []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := path.Match(pattern, e.Name())
		if err != nil {
			return "", protocol.NewError(protocol.CodeSCPFailed, "invalid glob pattern", err.Error())
		}
		if ok {
			matched = append(matched, e.Name())
		}
	}

	if err := dstSFTP.MkdirAll(recipe.DestPath); err != nil {
		return "", protocol.NewError(protocol.CodeSCPFailed, "create destination directory failed", err.Error())
	}

	for i, name := range matched {
		select {
		case <-ctx.Done():
			return OutcomeCancelled, nil
		default:
		}

		if err := copyOneFile(srcSFTP, dstSFTP, path.Join(path.Dir(recipe.SourcePathGlob), name), path.Join(recipe.DestPath, name)); err != nil {
			return "", protocol.NewError(protocol.CodeSCPFailed, "copy failed", fmt.Sprintf("%s: %v", name, err))
		}

		if err := sink.Write(fmt.Sprintf("transferred %d/%d: %s\n", i+1, len(matched), name)); err != nil {
			return OutcomeCancelled, nil
		}
	}

	if err := sink.Write(fmt.Sprintf("transfer %q complete: %d file(s)\n", transferName, len(matched))); err != nil {
		return OutcomeCancelled, nil
	}

	return OutcomeCompleted, nil
}

func copyOneFile(srcSFTP, dstSFTP *sftp.Client, srcPath, dstPath string) error {
	src, err := srcSFTP.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := dstSFTP.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create destination %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s to %s: %w", srcPath, dstPath, err)
	}
	return nil
}

// dialSSH opens a short-lived SSH connection to a registered host for the
// destination leg of a transfer; the source leg reuses the Runner's own
// already-connected client.
func dialSSH(ctx context.Context, host hostregistry.HostConfig) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User: host.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(host.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         authTimeout,
	}
	addr := net.JoinHostPort(host.Host, fmt.Sprintf("%d", host.Port))

	type result struct {
		client *ssh.Client
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, config)
		resultCh <- result{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		return res.client, res.err
	}
}

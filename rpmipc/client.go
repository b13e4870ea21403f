package rpmipc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/quay/zlog"
)

// Client drives one install-helper subprocess for the lifetime of a
// single transaction: it sends the Commit message and streams back typed
// Events until TransFinished or the process exits.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	script *os.File // read end of the ScriptFd pipe
}

// Start launches the helper binary and wires up stdin/stdout plus a
// dedicated pipe for ScriptFd.
func Start(ctx context.Context, helperPath string) (*Client, error) {
	cmd := exec.CommandContext(ctx, helperPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("rpmipc: stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("rpmipc: stdout pipe: %w", err)
	}
	scriptR, scriptW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("rpmipc: script pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{scriptW} // becomes fd 3 in the child; helper dup2s it to ScriptFd

	if err := cmd.Start(); err != nil {
		scriptR.Close()
		scriptW.Close()
		return nil, fmt.Errorf("rpmipc: start helper: %w", err)
	}
	scriptW.Close()

	return &Client{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdoutPipe),
		script: scriptR,
	}, nil
}

// SendCommit writes the initial Commit message.
func (c *Client) SendCommit(commit Commit) error {
	return WriteFrame(c.stdin, Frame{Command: "Commit", Body: commit.EncodeBody()})
}

// Next blocks for the next Event from the helper's stdout stream.
func (c *Client) Next() (Event, error) {
	f, err := ReadFrame(c.stdout)
	if err != nil {
		return nil, err
	}
	return DecodeEvent(f)
}

// ScriptOutput returns the next segment of script output, delimited by
// endOfScriptTag, as spec §4.10 describes for interleaved script output
// segmentation on the dedicated ScriptFd channel.
func (c *Client) ScriptOutput() ([]byte, error) {
	var buf bytes.Buffer
	tmp := make([]byte, 4096)
	for {
		n, err := c.script.Read(tmp)
		if n > 0 {
			buf.Write(tmp[:n])
			if idx := bytes.Index(buf.Bytes(), endOfScriptTag); idx >= 0 {
				segment := append([]byte(nil), buf.Bytes()[:idx]...)
				return segment, nil
			}
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
}

// Wait waits for the helper process to exit and maps its status to an
// ExitCode.
func (c *Client) Wait() (ExitCode, error) {
	c.stdin.Close()
	err := c.cmd.Wait()
	c.script.Close()
	if err == nil {
		return NoError, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		if code >= int(NoError) && code <= int(OtherError) {
			return ExitCode(code), nil
		}
		return OtherError, nil
	}
	return OtherError, err
}

// RefuseOnTTY implements spec §4.10's "the subprocess refuses to run with
// a TTY on any standard FD"; the helper binary itself is expected to call
// this at startup (this core ships it for the helper implementation to
// reuse, grounded on the same check the original zypp-rpm performs via
// isatty against each of the three standard descriptors).
func RefuseOnTTY(ctx context.Context, stdin, stdout, stderr *os.File) error {
	for _, f := range []*os.File{stdin, stdout, stderr} {
		fi, err := f.Stat()
		if err != nil {
			continue
		}
		if fi.Mode()&os.ModeCharDevice != 0 {
			zlog.Error(ctx).Str("fd", f.Name()).Msg("refusing to run the install helper attached to a tty")
			return fmt.Errorf("rpmipc: refusing to run with a tty on %s", f.Name())
		}
	}
	return nil
}

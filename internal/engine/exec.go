package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// stderrLimit caps how much tool output is kept for the diagnostic log.
const stderrLimit = 4 << 10

// runTool runs bin with args under timeout and classifies any failure.
func runTool(ctx context.Context, engine, bin string, timeout time.Duration, args ...string) error {
	path, err := exec.LookPath(bin)
	if err != nil {
		return &Error{Engine: engine, Code: CodeNotInstalled, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr limitedBuffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Engine: engine, Code: CodeTimedOut, Err: errors.Wrapf(err, "%s after %s", bin, timeout)}
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = errors.Wrap(err, msg)
		}
		return &Error{Engine: engine, Code: CodeExited, Err: err}
	}
	return nil
}

// checkOutput verifies a tool left a non-empty file at path.
func checkOutput(engine, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &Error{Engine: engine, Code: CodeNoOutput, Err: err}
	}
	if info.IsDir() || info.Size() == 0 {
		return &Error{Engine: engine, Code: CodeNoOutput, Err: errors.Newf("%s is empty", path)}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

type limitedBuffer struct {
	bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := stderrLimit - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

package pgtools

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Trendyol/go-pq-replica/logger"
	"github.com/go-playground/errors/v5"
)

type execToolchain struct {
	binDir string
}

// NewToolchain returns a Toolchain over os/exec. When binDir is set, tools
// are expected there (next to the server binary); otherwise PATH is searched.
func NewToolchain(binDir string) Toolchain {
	return &execToolchain{binDir: binDir}
}

func (t *execToolchain) Locate(name string) (string, error) {
	if t.binDir != "" {
		path := filepath.Join(t.binDir, name)
		if _, err := os.Stat(path); err != nil {
			return "", errors.Wrapf(err, "%s not found in %s", name, t.binDir)
		}
		return path, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.Wrapf(err, "%s not found in PATH", name)
	}
	return path, nil
}

func (t *execToolchain) Version(ctx context.Context, path string) (uint32, error) {
	out, err := exec.CommandContext(ctx, path, "-V").Output()
	if err != nil {
		return 0, errors.Wrapf(err, "run %s -V", path)
	}
	return ParseToolVersion(string(out))
}

func (t *execToolchain) Run(ctx context.Context, path string, args ...string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	logger.Info("exec start", "cmd", path, "args", args)
	start := time.Now()
	err := cmd.Run()
	logger.Info("exec done", "cmd", path, "duration", time.Since(start), "error", err)

	if err != nil {
		detail := strings.TrimSpace(errBuf.String())
		if detail != "" {
			return errors.Wrap(err, detail)
		}
		return err
	}

	return nil
}

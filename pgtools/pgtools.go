// Package pgtools drives the external pg_dump/pg_restore pair that moves the
// structural part of a node between servers. The tools must match the running
// server's major version exactly; dump formats are not guaranteed compatible
// across majors.
package pgtools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Trendyol/go-pq-replica/pq"
	"github.com/go-playground/errors/v5"
)

const (
	SectionPreData  = "pre-data"
	SectionPostData = "post-data"
)

// Toolchain locates, version-probes and runs external server tools. The real
// implementation lives in exec.go; tests substitute their own.
type Toolchain interface {
	Locate(name string) (string, error)
	Version(ctx context.Context, path string) (uint32, error)
	Run(ctx context.Context, path string, args ...string) error
}

// ToolError is a version mismatch or a failed tool invocation.
type ToolError struct {
	Tool    string
	Command string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("%s: could not execute command %q: %s", e.Tool, e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// DefaultArtifactPath is the well-known location of the structural dump file.
func DefaultArtifactPath() string {
	return filepath.Join(os.TempDir(), "go_pq_replica.dump")
}

// DumpStructure dumps the origin's structure bound to the shared snapshot, so
// the dump and the row copy observe the identical consistent cut.
func DumpStructure(ctx context.Context, tc Toolchain, serverMajor uint32, originDSN, snapshotID, artifact string) error {
	path, err := locateChecked(ctx, tc, "pg_dump", serverMajor)
	if err != nil {
		return err
	}

	args := []string{"--snapshot=" + snapshotID, "-F", "c", "-f", artifact, originDSN}
	if err := tc.Run(ctx, path, args...); err != nil {
		return &ToolError{Tool: "pg_dump", Command: commandLine(path, args), Err: err}
	}

	return nil
}

// RestoreStructure restores one section of the dump artifact on the target,
// stopping on the first error. Pre-data objects must exist before the row
// copy; post-data objects (indexes, constraints) are built after it.
func RestoreStructure(ctx context.Context, tc Toolchain, serverMajor uint32, targetDSN, section, artifact string) error {
	path, err := locateChecked(ctx, tc, "pg_restore", serverMajor)
	if err != nil {
		return err
	}

	args := []string{"--section=" + section, "--exit-on-error", "-1", "-d", targetDSN, artifact}
	if err := tc.Run(ctx, path, args...); err != nil {
		return &ToolError{Tool: "pg_restore", Command: commandLine(path, args), Err: err}
	}

	return nil
}

// ServerMajor reads the server's major version over an open session.
func ServerMajor(ctx context.Context, sess pq.Session) (uint32, error) {
	results, err := sess.Exec(ctx, "SHOW server_version_num")
	if err != nil {
		return 0, errors.Wrap(err, "server version query")
	}
	if len(results) != 1 || len(results[0].Rows) != 1 || len(results[0].Rows[0]) != 1 {
		return 0, errors.New("server version query returned no row")
	}

	num, err := strconv.Atoi(string(results[0].Rows[0][0]))
	if err != nil {
		return 0, errors.Wrap(err, "server version parse")
	}

	return MajorFromVersionNum(num), nil
}

// MajorFromVersionNum reduces a server_version_num to a comparable major:
// 150004 -> 15, 90624 -> 906 (pre-10 majors span two components).
func MajorFromVersionNum(num int) uint32 {
	if num >= 100000 {
		return uint32(num / 10000)
	}
	return uint32(num / 100)
}

// ParseToolVersion extracts the comparable major from a tool's -V output,
// e.g. "pg_dump (PostgreSQL) 15.4" -> 15, "pg_dump (PostgreSQL) 9.6.24" -> 906.
func ParseToolVersion(output string) (uint32, error) {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) == 0 {
		return 0, errors.New("empty version output")
	}

	parts := strings.Split(fields[len(fields)-1], ".")
	pre, err := strconv.Atoi(strings.TrimFunc(parts[0], notDigit))
	if err != nil {
		return 0, errors.Wrapf(err, "version output %q", output)
	}
	if pre >= 10 {
		return uint32(pre), nil
	}

	if len(parts) < 2 {
		return 0, errors.Newf("version output %q lacks minor component", output)
	}
	post, err := strconv.Atoi(strings.TrimFunc(parts[1], notDigit))
	if err != nil {
		return 0, errors.Wrapf(err, "version output %q", output)
	}

	return uint32(pre*100 + post), nil
}

func notDigit(r rune) bool { return r < '0' || r > '9' }

func locateChecked(ctx context.Context, tc Toolchain, tool string, serverMajor uint32) (string, error) {
	path, err := tc.Locate(tool)
	if err != nil {
		return "", &ToolError{Tool: tool, Err: errors.Wrap(err, "locate")}
	}

	major, err := tc.Version(ctx, path)
	if err != nil {
		return "", &ToolError{Tool: tool, Err: errors.Wrap(err, "version probe")}
	}

	if major != serverMajor {
		return "", &ToolError{Tool: tool, Err: errors.Newf(
			"wrong major version %s, server runs %s", formatMajor(major), formatMajor(serverMajor))}
	}

	return path, nil
}

func formatMajor(major uint32) string {
	if major >= 100 {
		return fmt.Sprintf("%d.%d", major/100, major%100)
	}
	return strconv.Itoa(int(major))
}

func commandLine(path string, args []string) string {
	return path + " " + strings.Join(args, " ")
}

// Package runner invokes the Spectrum Scale administration commands and
// feeds their output straight into the parsers, for hosts where
// scalemeter runs on a cluster node rather than on archived files.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"scalemeter/internal/iohist"
	"scalemeter/internal/repquota"
)

// QuotaKind selects which mmrepquota report to run.
type QuotaKind string

const (
	QuotaFileset QuotaKind = "j" // per-fileset quotas
	QuotaUser    QuotaKind = "u" // per-user quotas
	QuotaGroup   QuotaKind = "g" // per-group quotas
)

// DefaultBinDir is where Scale installs its administration commands.
const DefaultBinDir = "/usr/lpp/mmfs/bin"

// DefaultTimeout bounds a single command invocation.
const DefaultTimeout = 60 * time.Second

// Runner executes mm* commands.
type Runner struct {
	// BinDir holding the mm* binaries. Defaults to DefaultBinDir.
	BinDir string
	// Timeout per invocation. Defaults to DefaultTimeout.
	Timeout time.Duration

	Log *zap.Logger
}

// RepQuota runs `mmrepquota -Y -<kind> [fs]` and parses the output. An
// empty fs reports on all filesystems (mmrepquota -a).
func (r *Runner) RepQuota(ctx context.Context, fs string, kind QuotaKind) (*repquota.Report, error) {
	args := []string{"-Y", "-" + string(kind)}
	if fs == "" {
		args = append(args, "-a")
	} else {
		args = append(args, fs)
	}

	out, err := r.run(ctx, "mmrepquota", args...)
	if err != nil {
		return nil, err
	}
	return repquota.Parse(bytes.NewReader(out))
}

// IOHist runs `mmdiag --iohist [verbose]` and parses the output.
func (r *Runner) IOHist(ctx context.Context, verbose bool) (*iohist.History, error) {
	args := []string{"--iohist"}
	if verbose {
		args = append(args, "verbose")
	}

	out, err := r.run(ctx, "mmdiag", args...)
	if err != nil {
		return nil, err
	}
	return iohist.Parse(bytes.NewReader(out), iohist.Options{Verbose: verbose})
}

func (r *Runner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	binDir := r.BinDir
	if binDir == "" {
		binDir = DefaultBinDir
	}
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bin := filepath.Join(binDir, name)
	log.Debug("running command", zap.String("bin", bin), zap.Strings("args", args))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	log.Debug("command finished",
		zap.String("bin", bin),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %s", name, timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s failed: %w", name, err)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, msg)
	}
	return stdout.Bytes(), nil
}

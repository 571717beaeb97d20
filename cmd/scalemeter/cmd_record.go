package main

import (
	"context"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scalemeter/internal/repquota"
	"scalemeter/internal/runner"
	"scalemeter/internal/store"
	"scalemeter/internal/watch"
)

var (
	recordFilesystem string
	recordKind       string
	recordWatchDir   string
	recordPattern    string
)

var recordCmd = &cobra.Command{
	Use:   "record [file]",
	Short: "Record a quota report into the snapshot database",
	Long: `Records an mmrepquota -Y report as a snapshot in the SQLite database.

With a file argument, the file is parsed and recorded; the snapshot
timestamp is taken from a <date>/<hour> directory layout when the path
has one (e.g. usage/2018-01-01/00/mmrepquota-j.txt), and from the file's
modification time otherwise.

Without arguments, mmrepquota is invoked directly and the snapshot is
stamped with the current time. This requires running on a cluster node.

With --watch, scalemeter stays in the foreground and records snapshot
files as they appear in the watched directory. Stop with Ctrl-C.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordFilesystem, "filesystem", "", "filesystem to report on (default: all)")
	recordCmd.Flags().StringVar(&recordKind, "kind", string(runner.QuotaFileset),
		"mmrepquota report kind: j (fileset), u (user), g (group)")
	recordCmd.Flags().StringVar(&recordWatchDir, "watch", "", "watch this directory and record new snapshot files")
	recordCmd.Flags().StringVar(&recordPattern, "watch-pattern", "mmrepquota-*.txt", "file name pattern for --watch")
}

func runRecord(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()

	if recordWatchDir != "" {
		return watchAndRecord(ctx, st)
	}

	if len(args) == 1 {
		snap, err := recordFile(ctx, st, args[0])
		if err != nil {
			return err
		}
		cmd.Println(summaryLine("recorded snapshot %s (%d entries at %s)", snap.ID, snap.Entries, snap.TakenAt.Format(time.RFC3339)))
		return nil
	}

	r := &runner.Runner{
		BinDir:  cfg.Commands.BinDir,
		Timeout: cfg.CommandTimeout(),
		Log:     logger.Named("runner"),
	}
	rep, err := r.RepQuota(ctx, recordFilesystem, runner.QuotaKind(recordKind))
	if err != nil {
		return err
	}
	snap, err := st.RecordReport(ctx, time.Now(), "mmrepquota -Y -"+recordKind, rep)
	if err != nil {
		return err
	}
	cmd.Println(summaryLine("recorded snapshot %s (%d entries)", snap.ID, snap.Entries))
	return nil
}

func recordFile(ctx context.Context, st *store.Store, path string) (store.Snapshot, error) {
	rep, err := repquota.ParseFile(path)
	if err != nil {
		return store.Snapshot{}, err
	}

	takenAt, ok := snapshotTime(path)
	if !ok {
		info, err := os.Stat(path)
		if err != nil {
			return store.Snapshot{}, err
		}
		takenAt = info.ModTime()
	}

	return st.RecordReport(ctx, takenAt, path, rep)
}

// watchAndRecord tails the watch directory until interrupted.
func watchAndRecord(ctx context.Context, st *store.Store) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watch.New(recordWatchDir, recordPattern, func(ctx context.Context, path string) error {
		snap, err := recordFile(ctx, st, path)
		if err != nil {
			return err
		}
		logger.Info("recorded snapshot",
			zap.String("id", snap.ID),
			zap.String("source", snap.Source),
			zap.Int("entries", snap.Entries))
		return nil
	}, logger)
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	stats := w.Stats()
	logger.Info("watch finished",
		zap.Int("ingested", stats.Ingested),
		zap.Int("errors", stats.Errors))
	return nil
}

// snapshotTimeRe matches the <date>/<hour>/<file> archive layout.
var snapshotTimeRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})/(\d{1,2})/[^/]+$`)

// snapshotTime derives the snapshot timestamp from an archive path like
// usage/2018-01-01/00/mmrepquota-j.txt.
func snapshotTime(path string) (time.Time, bool) {
	m := snapshotTimeRe.FindStringSubmatch(path)
	if m == nil {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation("2006-01-02", m[1], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	hour, err := strconv.Atoi(m[2])
	if err != nil || hour > 23 {
		return time.Time{}, false
	}
	return day.Add(time.Duration(hour) * time.Hour), true
}

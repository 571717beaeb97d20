package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"scalemeter/internal/history"
	"scalemeter/internal/repquota"
	"scalemeter/internal/store"
)

var (
	seriesGroup    string
	seriesGroupBy  string
	seriesQuantity string
	seriesDataDir  string
	seriesFrom     string
	seriesTo       string
	groupsBy       string
)

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Print a usage time series for a fileset or filesystem",
	Long: `Prints one usage sample per snapshot for the given group.

By default the series comes from the snapshot database (see 'record').
With --datadir, it is built directly from a directory tree of archived
reports laid out as <datadir>/<date>/<hour>/` + history.DefaultFileName + `,
and --group is optional: all groups are printed.

Block quantities are shown in GB; file counts as-is.`,
	RunE: runSeries,
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List the group names present in the snapshot database",
	RunE:  runGroups,
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List the recorded snapshots",
	RunE:  runSnapshots,
}

func init() {
	seriesCmd.Flags().StringVar(&seriesGroup, "group", "", "fileset or filesystem name")
	seriesCmd.Flags().StringVar(&seriesGroupBy, "group-by", "", "grouping key: filesetname or filesystemName")
	seriesCmd.Flags().StringVar(&seriesQuantity, "quantity", "", "quantity to track (default from config)")
	seriesCmd.Flags().StringVar(&seriesDataDir, "datadir", "", "build the series from this snapshot tree instead of the database")
	seriesCmd.Flags().StringVar(&seriesFrom, "from", "", "series start (YYYY-MM-DD or RFC3339)")
	seriesCmd.Flags().StringVar(&seriesTo, "to", "", "series end (YYYY-MM-DD or RFC3339)")

	groupsCmd.Flags().StringVar(&groupsBy, "group-by", "", "grouping key: filesetname or filesystemName")
}

func seriesSettings() (repquota.GroupKey, history.Quantity, error) {
	key := cfg.GroupBy()
	if seriesGroupBy != "" {
		key = repquota.GroupKey(seriesGroupBy)
		if key != repquota.GroupByFileset && key != repquota.GroupByFilesystem {
			return "", "", fmt.Errorf("invalid --group-by: %q", seriesGroupBy)
		}
	}
	quantity := cfg.Quantity()
	if seriesQuantity != "" {
		quantity = history.Quantity(seriesQuantity)
		if !quantity.Valid() {
			return "", "", fmt.Errorf("invalid --quantity: %q (valid: %v)", seriesQuantity, history.Quantities)
		}
	}
	return key, quantity, nil
}

func runSeries(cmd *cobra.Command, args []string) error {
	key, quantity, err := seriesSettings()
	if err != nil {
		return err
	}

	if seriesDataDir != "" {
		return seriesFromTree(cmd, key, quantity)
	}
	return seriesFromStore(cmd, key, quantity)
}

func seriesFromTree(cmd *cobra.Command, key repquota.GroupKey, quantity history.Quantity) error {
	b := &history.Builder{
		DataDir:      seriesDataDir,
		FileName:     cfg.History.FileName,
		Quantity:     quantity,
		GroupBy:      key,
		PointsPerDay: cfg.History.PointsPerDay,
		Exclude:      cfg.History.Exclude,
		Workers:      cfg.History.Workers,
		Log:          logger.Named("history"),
	}
	all, err := b.Build(cmd.Context())
	if err != nil {
		return err
	}

	names := make([]string, 0, len(all))
	for name := range all {
		if seriesGroup != "" && name != seriesGroup {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if seriesGroup != "" && len(names) == 0 {
		return fmt.Errorf("no series for group %q", seriesGroup)
	}

	for _, name := range names {
		printSeries(cmd, all[name], quantity)
	}
	return nil
}

func seriesFromStore(cmd *cobra.Command, key repquota.GroupKey, quantity history.Quantity) error {
	if seriesGroup == "" {
		return fmt.Errorf("--group is required when reading from the database")
	}

	from, err := parseTimeFlag(seriesFrom)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseTimeFlag(seriesTo)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	series, err := st.Series(cmd.Context(), store.SeriesQuery{
		Group:    seriesGroup,
		GroupBy:  key,
		Quantity: quantity,
		From:     from,
		To:       to,
	})
	if err != nil {
		return err
	}
	printSeries(cmd, series, quantity)
	return nil
}

// blockQuantities are reported in KiB and rendered in GB.
var blockQuantities = map[history.Quantity]bool{
	history.QuantityBlockUsage: true,
	history.QuantityBlockQuota: true,
	history.QuantityBlockLimit: true,
}

func printSeries(cmd *cobra.Command, s *history.Series, quantity history.Quantity) {
	unit := string(quantity)
	if blockQuantities[quantity] {
		unit += " (GB)"
	}

	tbl := newTable(s.Name, "time", unit)
	for _, p := range s.Points {
		value := p.Value
		if blockQuantities[quantity] {
			value /= 1e6
		}
		tbl.AddRow(p.At.Format("2006-01-02 15:04:05"), strconv.FormatFloat(value, 'f', 3, 64))
	}
	cmd.Println(tbl.Render())
	cmd.Println(summaryLine("%d points", len(s.Points)))
}

func runGroups(cmd *cobra.Command, args []string) error {
	key := cfg.GroupBy()
	if groupsBy != "" {
		key = repquota.GroupKey(groupsBy)
		if key != repquota.GroupByFileset && key != repquota.GroupByFilesystem {
			return fmt.Errorf("invalid --group-by: %q", groupsBy)
		}
	}

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	groups, err := st.Groups(cmd.Context(), key)
	if err != nil {
		return err
	}
	for _, name := range groups {
		cmd.Println(name)
	}
	return nil
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	snaps, err := st.Snapshots(cmd.Context())
	if err != nil {
		return err
	}

	tbl := newTable("", "taken at", "entries", "source", "id")
	for _, snap := range snaps {
		tbl.AddRow(
			snap.TakenAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(snap.Entries),
			snap.Source,
			snap.ID,
		)
	}
	cmd.Println(tbl.Render())
	cmd.Println(summaryLine("%d snapshots", len(snaps)))
	return nil
}

// parseTimeFlag accepts a bare date or a full RFC3339 timestamp.
func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, s)
}

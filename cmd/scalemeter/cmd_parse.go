package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scalemeter/internal/iohist"
	"scalemeter/internal/policy"
	"scalemeter/internal/repquota"
)

var (
	parseGroupBy    string
	parseShow       string
	parseMaxRecords int
	parseSortBy     string
	iohistVerbose   bool
	slowerThan      float64
)

// parseCmd groups the one-shot file parsers.
var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse a Scale command output file and print it as a table",
}

var parseRepquotaCmd = &cobra.Command{
	Use:   "repquota [file]",
	Short: "Parse mmrepquota -Y output",
	Long: `Parses a machine-readable quota report (mmrepquota -Y) and prints the
entries grouped by fileset or filesystem. Block quantities are shown in
GB. Entries over their soft block quota are highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: runParseRepquota,
}

var parsePolicyCmd = &cobra.Command{
	Use:   "policy [file]",
	Short: "Parse a policy list scan",
	Long: `Parses the list output of a policy scan. The SHOW column names must be
given with --show, in the order the policy rule emits them; names
containing DATE are decoded as timestamps.

Example:
  scalemeter parse policy list.all-files \
    --show KB_ALLOCATED,FILE_SIZE,USER_ID,FILESET_NAME,CREATION_DATE \
    --sort-by CREATION_DATE`,
	Args: cobra.ExactArgs(1),
	RunE: runParsePolicy,
}

var parseIOHistCmd = &cobra.Command{
	Use:   "iohist [file]",
	Short: "Parse mmdiag --iohist output",
	Args:  cobra.ExactArgs(1),
	RunE:  runParseIOHist,
}

func init() {
	parseRepquotaCmd.Flags().StringVar(&parseGroupBy, "group-by", string(repquota.GroupByFileset),
		"grouping key: filesetname or filesystemName")

	parsePolicyCmd.Flags().StringVar(&parseShow, "show", "", "comma-separated SHOW column names (required)")
	parsePolicyCmd.Flags().IntVar(&parseMaxRecords, "max-records", 0, "stop after this many records (0 = all)")
	parsePolicyCmd.Flags().StringVar(&parseSortBy, "sort-by", "", "DATE column to sort by")
	_ = parsePolicyCmd.MarkFlagRequired("show")

	parseIOHistCmd.Flags().BoolVar(&iohistVerbose, "iohist-verbose", false, "input is from mmdiag --iohist verbose")
	parseIOHistCmd.Flags().Float64Var(&slowerThan, "slower-than", 0, "only show I/Os slower than this many ms")

	parseCmd.AddCommand(parseRepquotaCmd)
	parseCmd.AddCommand(parsePolicyCmd)
	parseCmd.AddCommand(parseIOHistCmd)
}

func runParseRepquota(cmd *cobra.Command, args []string) error {
	key := repquota.GroupKey(parseGroupBy)
	if key != repquota.GroupByFileset && key != repquota.GroupByFilesystem {
		return fmt.Errorf("invalid --group-by: %q", parseGroupBy)
	}

	rep, err := repquota.ParseFile(args[0])
	if err != nil {
		return err
	}
	logger.Debug("parsed repquota report", zap.Int("entries", len(rep.Entries)))

	groups := rep.Group(key)
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entries := groups[name]
		tbl := newTable(name, "name", "type", "usage (GB)", "quota (GB)", "limit (GB)", "files", "remarks")
		for _, e := range entries {
			tbl.AddRow(
				e.Name,
				e.QuotaType,
				formatGB(e.BlockUsage),
				formatGB(e.BlockQuota),
				formatGB(e.BlockLimit),
				strconv.FormatInt(e.FilesUsage, 10),
				e.Remarks,
			)
			if e.BlockQuota > 0 && e.BlockUsage > e.BlockQuota {
				tbl.Highlight()
			}
		}
		cmd.Println(tbl.Render())
	}
	cmd.Println(summaryLine("%d entries", len(rep.Entries)))
	return nil
}

func runParsePolicy(cmd *cobra.Command, args []string) error {
	schema := policy.Schema(strings.Split(parseShow, ","))
	scan, err := policy.ParseFile(args[0], schema, policy.Options{MaxRecords: parseMaxRecords})
	if err != nil {
		return err
	}
	if parseSortBy != "" {
		scan.SortByTime(parseSortBy)
	}

	headers := append([]string{"inode"}, schema...)
	headers = append(headers, "path")
	tbl := newTable("", headers...)
	for _, rec := range scan.Records {
		row := []string{strconv.FormatInt(rec.InodeNumber, 10)}
		for _, col := range schema {
			if ts, ok := rec.Times[col]; ok {
				row = append(row, ts.Format("2006-01-02 15:04:05"))
				continue
			}
			row = append(row, rec.Fields[col])
		}
		row = append(row, rec.Path)
		tbl.AddRow(row...)
	}
	cmd.Println(tbl.Render())
	cmd.Println(summaryLine("%d records (%d malformed lines skipped)", len(scan.Records), scan.Skipped))
	return nil
}

func runParseIOHist(cmd *cobra.Command, args []string) error {
	h, err := iohist.ParseFile(args[0], iohist.Options{Verbose: iohistVerbose})
	if err != nil {
		return err
	}

	ios := h.IOs
	if slowerThan > 0 {
		ios = h.SlowerThan(slowerThan)
	}

	tbl := newTable("", "start", "rw", "buf type", "disk", "sector", "nSec", "time (ms)", "type", "NSD node")
	for _, row := range ios {
		tbl.AddRow(
			row.StartTime,
			row.RW,
			row.BufType,
			row.Disk,
			strconv.FormatInt(row.Sector, 10),
			strconv.FormatInt(row.NSec, 10),
			fmt.Sprintf("%.3f", row.TimeMS),
			row.IOType,
			row.NSDNode,
		)
	}
	cmd.Println(tbl.Render())
	cmd.Println(summaryLine("%d of %d I/Os shown", len(ios), len(h.IOs)))
	return nil
}

// Package history builds per-fileset usage time series from directory
// trees of archived mmrepquota snapshots.
//
// The expected layout is <datadir>/<date>/<hour>/<file>, e.g.
// usage/2018-01-01/00/mmrepquota-j.txt: one snapshot of quota usage per
// hour directory. Build walks the tree, parses the snapshots, and folds
// them into one Series per fileset (or filesystem).
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scalemeter/internal/repquota"
)

// Quantity selects which quota field a series tracks.
type Quantity string

const (
	QuantityBlockUsage Quantity = "blockUsage"
	QuantityBlockQuota Quantity = "blockQuota"
	QuantityBlockLimit Quantity = "blockLimit"
	QuantityFilesUsage Quantity = "filesUsage"
	QuantityFilesQuota Quantity = "filesQuota"
)

// Quantities lists the valid Quantity values.
var Quantities = []Quantity{
	QuantityBlockUsage, QuantityBlockQuota, QuantityBlockLimit,
	QuantityFilesUsage, QuantityFilesQuota,
}

// Of extracts the quantity from an entry.
func (q Quantity) Of(e *repquota.Entry) float64 {
	switch q {
	case QuantityBlockQuota:
		return float64(e.BlockQuota)
	case QuantityBlockLimit:
		return float64(e.BlockLimit)
	case QuantityFilesUsage:
		return float64(e.FilesUsage)
	case QuantityFilesQuota:
		return float64(e.FilesQuota)
	default:
		return float64(e.BlockUsage)
	}
}

// Valid reports whether q names a known quantity.
func (q Quantity) Valid() bool {
	for _, known := range Quantities {
		if q == known {
			return true
		}
	}
	return false
}

// Point is one sample of a series.
type Point struct {
	At    time.Time
	Value float64
}

// Series is a time-ordered sequence of samples for one group.
type Series struct {
	Name   string
	Points []Point
}

// DefaultExclude lists group names dropped from every build: the root
// fileset shares its name across filesystems, so its series would mix
// unrelated data.
var DefaultExclude = []string{"root", "COMMON"}

// DefaultFileName is the snapshot file name inside each hour directory.
const DefaultFileName = "mmrepquota-j.txt"

// Builder walks a snapshot tree and produces series.
type Builder struct {
	// DataDir is the root of the <date>/<hour>/<file> tree.
	DataDir string
	// FileName inside each hour directory. Defaults to DefaultFileName.
	FileName string
	// Quantity to track. Defaults to QuantityBlockUsage.
	Quantity Quantity
	// GroupBy keys the series. Defaults to repquota.GroupByFileset.
	GroupBy repquota.GroupKey
	// PointsPerDay limits how many hour snapshots are used per date
	// directory. Defaults to 1 (the earliest hour of each day).
	PointsPerDay int
	// Exclude names groups to drop. Defaults to DefaultExclude.
	Exclude []string
	// Workers bounds concurrent snapshot parses. Defaults to 4.
	Workers int
	// Location stamps the snapshots. Defaults to time.Local.
	Location *time.Location

	Log *zap.Logger
}

// snapshot is one parse job: a file plus the timestamp its directory
// position implies.
type snapshot struct {
	path string
	at   time.Time

	// groups is filled by the parse worker: group name -> quantity sum.
	groups map[string]float64
	ok     bool
}

var dateDirRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Build parses the snapshot tree and returns one Series per group, keyed
// by group name. Unreadable or malformed snapshot files are logged and
// skipped. Points are sorted ascending; the first value seen for a
// timestamp wins.
func (b *Builder) Build(ctx context.Context) (map[string]*Series, error) {
	b.applyDefaults()

	jobs, err := b.collect()
	if err != nil {
		return nil, err
	}
	b.Log.Info("building series",
		zap.String("datadir", b.DataDir),
		zap.Int("snapshots", len(jobs)),
		zap.String("quantity", string(b.Quantity)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Workers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep, err := repquota.ParseFile(job.path)
			if err != nil {
				b.Log.Warn("cannot read snapshot, skipping", zap.String("path", job.path), zap.Error(err))
				return nil
			}
			job.groups = make(map[string]float64)
			for name, entries := range rep.Group(b.GroupBy) {
				for i := range entries {
					job.groups[name] += b.Quantity.Of(&entries[i])
				}
			}
			job.ok = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return b.fold(jobs), nil
}

func (b *Builder) applyDefaults() {
	if b.FileName == "" {
		b.FileName = DefaultFileName
	}
	if b.Quantity == "" {
		b.Quantity = QuantityBlockUsage
	}
	if b.GroupBy == "" {
		b.GroupBy = repquota.GroupByFileset
	}
	if b.PointsPerDay <= 0 {
		b.PointsPerDay = 1
	}
	if b.Exclude == nil {
		b.Exclude = DefaultExclude
	}
	if b.Workers <= 0 {
		b.Workers = 4
	}
	if b.Location == nil {
		b.Location = time.Local
	}
	if b.Log == nil {
		b.Log = zap.NewNop()
	}
}

// collect lists the snapshot files in chronological order, honoring
// PointsPerDay within each date directory.
func (b *Builder) collect() ([]*snapshot, error) {
	dates, err := os.ReadDir(b.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read datadir: %w", err)
	}

	var jobs []*snapshot
	for _, dateEnt := range dates {
		if !dateEnt.IsDir() || !dateDirRe.MatchString(dateEnt.Name()) {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", dateEnt.Name(), b.Location)
		if err != nil {
			continue
		}

		hourDir := filepath.Join(b.DataDir, dateEnt.Name())
		hours, err := os.ReadDir(hourDir)
		if err != nil {
			b.Log.Warn("cannot list date directory, skipping", zap.String("dir", hourDir), zap.Error(err))
			continue
		}

		// Keep the directory name as listed: hour directories may be
		// unpadded ("5" as well as "05").
		type hourEntry struct {
			hour int
			name string
		}
		var hourEnts []hourEntry
		for _, hourEnt := range hours {
			if !hourEnt.IsDir() {
				continue
			}
			hour, err := strconv.Atoi(hourEnt.Name())
			if err != nil || hour < 0 || hour > 23 {
				continue
			}
			hourEnts = append(hourEnts, hourEntry{hour: hour, name: hourEnt.Name()})
		}
		sort.Slice(hourEnts, func(i, j int) bool { return hourEnts[i].hour < hourEnts[j].hour })

		taken := 0
		for _, ent := range hourEnts {
			if taken >= b.PointsPerDay {
				break
			}
			path := filepath.Join(hourDir, ent.name, b.FileName)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			jobs = append(jobs, &snapshot{
				path: path,
				at:   day.Add(time.Duration(ent.hour) * time.Hour),
			})
			taken++
		}
	}

	// Date directory names sort chronologically, but be explicit: fold
	// relies on jobs arriving in time order.
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].at.Before(jobs[j].at) })
	return jobs, nil
}

// fold merges the parsed snapshots into per-group series.
func (b *Builder) fold(jobs []*snapshot) map[string]*Series {
	excluded := make(map[string]bool, len(b.Exclude))
	for _, name := range b.Exclude {
		excluded[name] = true
	}

	series := make(map[string]*Series)
	seen := make(map[string]map[time.Time]bool)
	points := 0
	for _, job := range jobs {
		if !job.ok {
			continue
		}
		points++
		for name, value := range job.groups {
			if excluded[name] {
				continue
			}
			if seen[name] == nil {
				seen[name] = make(map[time.Time]bool)
			}
			if seen[name][job.at] {
				continue // duplicate timestamp, first wins
			}
			seen[name][job.at] = true

			s := series[name]
			if s == nil {
				s = &Series{Name: name}
				series[name] = s
			}
			s.Points = append(s.Points, Point{At: job.at, Value: value})
		}
	}
	b.Log.Info("series built", zap.Int("points", points), zap.Int("groups", len(series)))
	return series
}

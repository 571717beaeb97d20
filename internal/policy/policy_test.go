package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{"KB_ALLOCATED", "FILE_SIZE", "USER_ID", "FILESET_NAME", "CREATION_DATE"}

const sampleScan = `503808 65538 0  1024 * 4096 * 1000 * projects * 2018-03-01 12:34:56.123456 -- /gpfs0/projects/report.dat
503810 65538 0  0 * 0 * 1001 * projects * 2018-03-02 08:00:00 -- /gpfs0/projects/with space.txt
503811 65538 0  2048 * 8192 * 1000 * scratch * 2018-02-28 23:59:59.500000 -- /gpfs0/scratch/tmp,comma
`

func TestParse(t *testing.T) {
	utc := time.UTC
	scan, err := Parse(strings.NewReader(sampleScan), testSchema, Options{Location: utc})
	require.NoError(t, err)
	require.Len(t, scan.Records, 3)
	assert.Zero(t, scan.Skipped)

	r := scan.Records[0]
	assert.Equal(t, int64(503808), r.InodeNumber)
	assert.Equal(t, int64(65538), r.GenNumber)
	assert.Equal(t, int64(0), r.SnapshotID)
	assert.Equal(t, "1024", r.Fields["KB_ALLOCATED"])
	assert.Equal(t, "4096", r.Fields["FILE_SIZE"])
	assert.Equal(t, "1000", r.Fields["USER_ID"])
	assert.Equal(t, "projects", r.Fields["FILESET_NAME"])
	assert.Equal(t, time.Date(2018, 3, 1, 12, 34, 56, 123456000, utc), r.Times["CREATION_DATE"])
	assert.Equal(t, "/gpfs0/projects/report.dat", r.Path)

	// Paths with spaces and other odd characters survive intact.
	assert.Equal(t, "/gpfs0/projects/with space.txt", scan.Records[1].Path)
	assert.Equal(t, "/gpfs0/scratch/tmp,comma", scan.Records[2].Path)

	// Even a leading space belongs to the file name: everything after
	// the "--" delimiter is the path.
	odd := "503820 65538 0  1 * 2 * 1000 * projects * 2018-03-01 00:00:00 --  starts with space\n"
	oddScan, err := Parse(strings.NewReader(odd), testSchema, Options{Location: utc})
	require.NoError(t, err)
	require.Len(t, oddScan.Records, 1)
	assert.Equal(t, " starts with space", oddScan.Records[0].Path)

	// Timestamps without a fractional part decode too.
	assert.Equal(t, time.Date(2018, 3, 2, 8, 0, 0, 0, utc), scan.Records[1].Times["CREATION_DATE"])
}

func TestParse_SkipsMalformedLines(t *testing.T) {
	input := sampleScan +
		"not-a-number 65538 0  1 * 2 * 3 * x * 2018-01-01 00:00:00 -- /f\n" + // bad inode
		"503812 65538 0  1 * 2 * 3 -- /missing/columns\n" + // too few columns
		"503813 65538 0  1 2 * 3 * x * 2018-01-01 00:00:00 -- /bad/separator\n" + // missing *
		"503814 65538 0  1 * 2 * 3 * x * garbage time -- /bad/timestamp\n" +
		"503815 65538 0  1 * 2 * 3 * x * 2018-01-01 00:00:00 /no/terminator\n"

	scan, err := Parse(strings.NewReader(input), testSchema, Options{Location: time.UTC})
	require.NoError(t, err)
	assert.Len(t, scan.Records, 3)
	assert.Equal(t, 5, scan.Skipped)
}

func TestParse_MaxRecords(t *testing.T) {
	scan, err := Parse(strings.NewReader(sampleScan), testSchema, Options{MaxRecords: 2, Location: time.UTC})
	require.NoError(t, err)
	assert.Len(t, scan.Records, 2)
}

func TestParse_EmptySchema(t *testing.T) {
	_, err := Parse(strings.NewReader(sampleScan), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty schema")
}

func TestSortByTime(t *testing.T) {
	scan, err := Parse(strings.NewReader(sampleScan), testSchema, Options{Location: time.UTC})
	require.NoError(t, err)

	scan.SortByTime("CREATION_DATE")

	var paths []string
	for _, r := range scan.Records {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{
		"/gpfs0/scratch/tmp,comma",
		"/gpfs0/projects/report.dat",
		"/gpfs0/projects/with space.txt",
	}, paths)
}

// Package iohist parses the output of mmdiag --iohist, the GPFS daemon's
// recent I/O history.
//
// The output carries a preamble, a column header, a dashed separator
// line, then one whitespace-separated row per I/O:
//
//	14:13:53.867170  R  LLIndBlock  1:51808768  64  12.345  lcl  C0A80E85:5EFF2FA2  192.168.14.133
//
// The preamble is skipped by looking for the dashed separator rather
// than assuming a fixed number of lines, since the preamble length
// varies between releases.
package iohist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// IO is one row of the I/O history. StartTime is the daemon's wall
// clock (hh:mm:ss.ffffff, no date) and is kept as a string.
type IO struct {
	StartTime string
	RW        string
	BufType   string
	Disk      string
	Sector    int64
	NSec      int64
	TimeMS    float64
	IOType    string
	NSDID     string
	NSDNode   string

	// Verbose-mode extras; empty when not parsing verbose output.
	Info1   string
	Info2   string
	Context string
	Thread  string
}

// History is a parsed mmdiag --iohist output.
type History struct {
	IOs     []IO
	Verbose bool
}

// Options tunes parsing.
type Options struct {
	// Verbose expects the four extra columns of mmdiag --iohist verbose.
	Verbose bool
}

const (
	numColumns        = 9
	numColumnsVerbose = 13
)

// ParseFile reads and parses an mmdiag --iohist output file.
func ParseFile(path string, opts Options) (*History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	h, err := Parse(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// Parse decodes mmdiag --iohist output from r.
func Parse(r io.Reader, opts Options) (*History, error) {
	want := numColumns
	if opts.Verbose {
		want = numColumnsVerbose
	}

	h := &History{Verbose: opts.Verbose}
	inBody := false
	lineNo := 0

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if !inBody {
			if isSeparator(line) {
				inBody = true
			}
			continue
		}
		if line == "" {
			continue
		}

		tokens := strings.Fields(line)
		if len(tokens) != want {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d (verbose output? re-parse with the matching mode)", lineNo, want, len(tokens))
		}

		row, err := decodeRow(tokens, opts.Verbose)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		h.IOs = append(h.IOs, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if !inBody {
		return nil, fmt.Errorf("no I/O history table found (missing separator line)")
	}

	return h, nil
}

// SlowerThan returns the IOs whose service time exceeds ms.
func (h *History) SlowerThan(ms float64) []IO {
	var slow []IO
	for _, row := range h.IOs {
		if row.TimeMS > ms {
			slow = append(slow, row)
		}
	}
	return slow
}

func decodeRow(tokens []string, verbose bool) (IO, error) {
	row := IO{
		StartTime: tokens[0],
		RW:        tokens[1],
		BufType:   tokens[2],
		IOType:    tokens[6],
		NSDID:     tokens[7],
		NSDNode:   tokens[8],
	}

	disk, sector, found := strings.Cut(tokens[3], ":")
	if !found {
		return IO{}, fmt.Errorf("invalid disk:sectorNum %q", tokens[3])
	}
	row.Disk = disk
	var err error
	if row.Sector, err = strconv.ParseInt(sector, 10, 64); err != nil {
		return IO{}, fmt.Errorf("invalid sector number %q", sector)
	}
	if row.NSec, err = strconv.ParseInt(tokens[4], 10, 64); err != nil {
		return IO{}, fmt.Errorf("invalid nSec %q", tokens[4])
	}
	if row.TimeMS, err = strconv.ParseFloat(tokens[5], 64); err != nil {
		return IO{}, fmt.Errorf("invalid time ms %q", tokens[5])
	}

	if verbose {
		row.Info1 = tokens[9]
		row.Info2 = tokens[10]
		row.Context = tokens[11]
		row.Thread = tokens[12]
	}

	return row, nil
}

// isSeparator reports whether line is the dashed rule under the column
// headers.
func isSeparator(line string) bool {
	if line == "" {
		return false
	}
	for _, r := range line {
		if r != '-' && r != ' ' {
			return false
		}
	}
	return strings.Contains(line, "---")
}

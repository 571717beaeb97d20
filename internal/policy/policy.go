// Package policy parses the list output of Spectrum Scale policy scans.
//
// A list rule such as
//
//	RULE 'listall' list 'all-files'
//	SHOW( varchar(kb_allocated) || ' * ' || varchar(file_size) || ' * ' ||
//	      varchar(user_id) || ' * ' || fileset_name || ' * ' ||
//	      varchar(creation_time) )
//
// produces one line per file:
//
//	<inode> <gen> <snapshot>  <field> * <field> * ... * <field> -- <path>
//
// The caller declares the SHOW columns as a Schema; columns whose name
// contains "DATE" are decoded as timestamps (the SQL varchar of a
// timestamp prints as two whitespace-separated tokens, date then
// time-of-day). Everything after the "--" separator is the file path,
// taken verbatim so paths containing spaces survive.
package policy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schema is the ordered list of SHOW column names.
type Schema []string

// Record is one file from a policy list scan.
type Record struct {
	InodeNumber int64
	GenNumber   int64
	SnapshotID  int64

	// Fields holds the plain SHOW columns by name.
	Fields map[string]string
	// Times holds the DATE columns by name.
	Times map[string]time.Time

	Path string
}

// Scan is a parsed policy list output.
type Scan struct {
	Schema  Schema
	Records []Record

	// Skipped counts malformed lines that were dropped.
	Skipped int
}

// Options tunes parsing.
type Options struct {
	// MaxRecords stops parsing after this many records. 0 means all.
	MaxRecords int
	// Location for decoding timestamps. Defaults to time.Local.
	Location *time.Location
}

// Timestamp layouts as printed by varchar() of a Scale timestamp.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseFile reads and parses a policy list scan file.
func ParseFile(path string, schema Schema, opts Options) (*Scan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, schema, opts)
}

// Parse decodes policy list output from r against the given schema.
// Malformed lines are counted and skipped rather than failing the whole
// scan: policy output in the wild contains lines mangled by unusual file
// names.
func Parse(r io.Reader, schema Schema, opts Options) (*Scan, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	scan := &Scan{Schema: schema}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, ok := parseLine(line, schema, loc)
		if !ok {
			scan.Skipped++
			continue
		}
		scan.Records = append(scan.Records, rec)
		if opts.MaxRecords > 0 && len(scan.Records) >= opts.MaxRecords {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	return scan, nil
}

// SortByTime stable-sorts the records ascending by the named DATE column.
// Records missing the column sort first.
func (s *Scan) SortByTime(column string) {
	sort.SliceStable(s.Records, func(i, j int) bool {
		return s.Records[i].Times[column].Before(s.Records[j].Times[column])
	})
}

func parseLine(line string, schema Schema, loc *time.Location) (Record, bool) {
	// Split off the path first: it may contain any whitespace.
	head, path, found := strings.Cut(line, " -- ")
	if !found {
		return Record{}, false
	}

	tokens := strings.Fields(head)
	rec := Record{
		Fields: make(map[string]string),
		Times:  make(map[string]time.Time),
		Path:   path,
	}

	if len(tokens) < 3 {
		return Record{}, false
	}
	var err error
	if rec.InodeNumber, err = strconv.ParseInt(tokens[0], 10, 64); err != nil {
		return Record{}, false
	}
	if rec.GenNumber, err = strconv.ParseInt(tokens[1], 10, 64); err != nil {
		return Record{}, false
	}
	if rec.SnapshotID, err = strconv.ParseInt(tokens[2], 10, 64); err != nil {
		return Record{}, false
	}
	tokens = tokens[3:]

	for i, col := range schema {
		if i > 0 {
			// SHOW columns are joined with ' * '.
			if len(tokens) == 0 || tokens[0] != "*" {
				return Record{}, false
			}
			tokens = tokens[1:]
		}

		if strings.Contains(col, "DATE") {
			if len(tokens) < 2 {
				return Record{}, false
			}
			ts, ok := parseTime(tokens[0]+" "+tokens[1], loc)
			if !ok {
				return Record{}, false
			}
			rec.Times[col] = ts
			tokens = tokens[2:]
			continue
		}

		if len(tokens) == 0 {
			return Record{}, false
		}
		rec.Fields[col] = tokens[0]
		tokens = tokens[1:]
	}

	// Leftover tokens mean the schema does not match the output.
	if len(tokens) != 0 {
		return Record{}, false
	}

	return rec, true
}

func parseTime(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

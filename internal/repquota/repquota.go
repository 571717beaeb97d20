// Package repquota decodes the machine-readable output of mmrepquota -Y.
//
// The -Y format is colon-delimited. The first row per section is a HEADER
// row naming the fields; data rows carry the values in the same positions.
// Field positions are resolved by name, so outputs from different Spectrum
// Scale releases (which may add fields) still decode.
//
// Usage Example:
//
//	rep, err := repquota.ParseFile("mmrepquota-j.txt")
//	if err != nil { ... }
//	byFileset := rep.Group(repquota.GroupByFileset)
//	for name, entries := range byFileset {
//		fmt.Println(name, entries[0].BlockUsageGB())
//	}
package repquota

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// GroupKey selects the field used by Report.Group.
type GroupKey string

const (
	// GroupByFileset groups entries by fileset name.
	GroupByFileset GroupKey = "filesetname"
	// GroupByFilesystem groups entries by filesystem name.
	GroupByFilesystem GroupKey = "filesystemName"
)

// Quota types as reported in the quotaType field.
const (
	QuotaTypeUser    = "USR"
	QuotaTypeGroup   = "GRP"
	QuotaTypeFileset = "FILESET"
)

// Entry is one quota record from mmrepquota -Y. Block quantities are in
// KiB as emitted by the command.
type Entry struct {
	FilesystemName string
	QuotaType      string
	ID             int
	Name           string

	BlockUsage   int64
	BlockQuota   int64
	BlockLimit   int64
	BlockInDoubt int64
	BlockGrace   string

	FilesUsage   int64
	FilesQuota   int64
	FilesLimit   int64
	FilesInDoubt int64
	FilesGrace   string

	Remarks  string
	Quota    string
	DefQuota string

	// FilesetName is set when per-fileset quotas are enabled; empty
	// otherwise.
	FilesetName string
}

// BlockUsageGB returns the block usage converted from KiB to GB (/1e6),
// the convention used when plotting usage.
func (e *Entry) BlockUsageGB() float64 {
	return float64(e.BlockUsage) / 1e6
}

// Report holds all entries from one mmrepquota -Y output.
type Report struct {
	Entries []Entry

	// Fields is the header field order as seen on the wire, kept for
	// diagnostics.
	Fields []string
}

// Group buckets the entries by fileset or filesystem name, preserving
// input order within each bucket.
func (r *Report) Group(key GroupKey) map[string][]Entry {
	groups := make(map[string][]Entry)
	for _, e := range r.Entries {
		var k string
		switch key {
		case GroupByFilesystem:
			k = e.FilesystemName
		default:
			k = e.FilesetName
		}
		groups[k] = append(groups[k], e)
	}
	return groups
}

// ParseFile reads and parses an mmrepquota -Y output file.
func ParseFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	rep, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rep, nil
}

// Parse decodes mmrepquota -Y output from r.
func Parse(r io.Reader) (*Report, error) {
	var (
		rep    Report
		index  map[string]int // field name -> token position
		lineNo int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "*") {
			continue // banner/comment lines
		}

		tokens := strings.Split(line, ":")
		if len(tokens) < 3 {
			return nil, fmt.Errorf("line %d: not a -Y record: %q", lineNo, line)
		}

		if tokens[2] == "HEADER" {
			if index != nil {
				continue // repeated header from concatenated outputs
			}
			index = make(map[string]int, len(tokens))
			for i, name := range tokens {
				if i < 3 || name == "" || name == "reserved" {
					continue
				}
				index[name] = i
				rep.Fields = append(rep.Fields, name)
			}
			continue
		}

		if index == nil {
			return nil, fmt.Errorf("line %d: data row before HEADER row", lineNo)
		}

		entry, err := decodeEntry(tokens, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rep.Entries = append(rep.Entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if index == nil {
		return nil, fmt.Errorf("no HEADER row found (is this mmrepquota -Y output?)")
	}

	return &rep, nil
}

func decodeEntry(tokens []string, index map[string]int) (Entry, error) {
	row := rowReader{tokens: tokens, index: index}

	e := Entry{
		FilesystemName: row.str("filesystemName"),
		QuotaType:      row.str("quotaType"),
		Name:           row.str("name"),
		BlockGrace:     row.str("blockGrace"),
		FilesGrace:     row.str("filesGrace"),
		Remarks:        row.str("remarks"),
		Quota:          row.str("quota"),
		DefQuota:       row.str("defQuota"),
		FilesetName:    row.str("filesetname"),
	}
	e.ID = int(row.num("id"))
	e.BlockUsage = row.num("blockUsage")
	e.BlockQuota = row.num("blockQuota")
	e.BlockLimit = row.num("blockLimit")
	e.BlockInDoubt = row.num("blockInDoubt")
	e.FilesUsage = row.num("filesUsage")
	e.FilesQuota = row.num("filesQuota")
	e.FilesLimit = row.num("filesLimit")
	e.FilesInDoubt = row.num("filesInDoubt")

	if row.err != nil {
		return Entry{}, row.err
	}
	return e, nil
}

// rowReader resolves fields by header name, recording the first error.
type rowReader struct {
	tokens []string
	index  map[string]int
	err    error
}

func (r *rowReader) str(name string) string {
	pos, ok := r.index[name]
	if !ok {
		return ""
	}
	if pos >= len(r.tokens) {
		if r.err == nil {
			r.err = fmt.Errorf("row too short: missing field %q", name)
		}
		return ""
	}
	return unescape(r.tokens[pos])
}

func (r *rowReader) num(name string) int64 {
	s := r.str(name)
	if s == "" || r.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("field %q: invalid number %q", name, s)
		}
		return 0
	}
	return n
}

// unescape reverses the %XX escaping the -Y format applies to characters
// that would collide with the colon delimiter.
func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

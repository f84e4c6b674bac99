// Package listing turns the output of unace's list commands into archive
// entries. A listing looks like this:
//
//	Date    Time     Packed      Size  Ratio  File
//
//	17.06.03 03:30       10680     38617   27%  bibtex/abbrvdin.bst
//	17.06.03 03:29        2096     43065    4%  *bibtex/alphadin.bst
//
// A leading asterisk on the file name marks a password protected entry.
package listing

import (
	"bufio"
	"strings"
	"unicode"

	"acexpander/job"
)

const passwordMarker = "*"

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse returns the entries in the order they are listed. Banner and
// summary lines are skipped. If no header line is found every line is
// considered.
func (p *Parser) Parse(stdout string) []job.Entry {
	lines := splitLines(stdout)
	start := 0
	for i, line := range lines {
		if isHeader(line) {
			start = i + 1
			break
		}
	}

	entries := []job.Entry{}
	for _, line := range lines[start:] {
		if e, ok := ParseLine(line); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// ParseLine parses a single entry line. It reports false for anything
// that does not carry all six fields.
func ParseLine(line string) (job.Entry, bool) {
	fields, rest := cutFields(line, 5)
	if len(fields) < 5 || rest == "" {
		return job.Entry{}, false
	}
	if !strings.HasSuffix(fields[4], "%") || !isNumeric(fields[2]) || !isNumeric(fields[3]) {
		return job.Entry{}, false
	}

	e := job.Entry{
		Date:     fields[0],
		Time:     fields[1],
		Packed:   fields[2],
		Size:     fields[3],
		Ratio:    fields[4],
		FileName: rest,
	}
	if strings.HasPrefix(e.FileName, passwordMarker) {
		e.PasswordProtected = true
		e.FileName = strings.TrimPrefix(e.FileName, passwordMarker)
	}
	return e, true
}

func isHeader(line string) bool {
	fields := strings.Fields(line)
	return len(fields) >= 6 && strings.EqualFold(fields[0], "Date") && strings.EqualFold(fields[len(fields)-1], "File")
}

// cutFields splits off the first n whitespace separated fields and
// returns the remainder with inner spacing intact, so file names with
// spaces survive.
func cutFields(line string, n int) ([]string, string) {
	fields := make([]string, 0, n)
	rest := strings.TrimLeftFunc(line, unicode.IsSpace)
	for len(fields) < n && rest != "" {
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			fields = append(fields, rest)
			rest = ""
			break
		}
		fields = append(fields, rest[:end])
		rest = strings.TrimLeftFunc(rest[end:], unicode.IsSpace)
	}
	return fields, strings.TrimRightFunc(rest, unicode.IsSpace)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func splitLines(s string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

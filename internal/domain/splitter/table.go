package splitter

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseTable reads a whitespace-separated splitter table, one
// "start stop [target]" row per line. Blank lines and lines starting with
// '#' are ignored. The clock must be stated by the caller.
func ParseTable(r io.Reader, tag string, clock Clock) (Set, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 || len(fields) > 3 {
			return Set{}, fmt.Errorf("%w: line %d: want 2 or 3 columns, got %d", ErrInvalidInput, line, len(fields))
		}
		start, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return Set{}, fmt.Errorf("%w: line %d: start: %v", ErrInvalidInput, line, err)
		}
		stop, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Set{}, fmt.Errorf("%w: line %d: stop: %v", ErrInvalidInput, line, err)
		}
		e := Entry{Start: start, Stop: stop}
		if len(fields) == 3 {
			t := Target(fields[2])
			e.Target = &t
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return Set{}, fmt.Errorf("reading splitter table: %w", err)
	}
	return (&Builder{}).FromArbitrary(tag, clock, entries)
}

package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed JSON log record.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	Raw   string
	// Valid is false for lines that are not JSON records.
	Valid bool
}

// ParseEntry parses a line written by Setup.
func ParseEntry(line string) Entry {
	e := Entry{Raw: line}
	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return e
	}
	e.Valid = true
	if t, ok := data["time"].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, t)
	}
	e.Level, _ = data["level"].(string)
	e.Msg, _ = data["msg"].(string)
	delete(data, "time")
	delete(data, "level")
	delete(data, "msg")
	e.Attrs = data
	return e
}

// Format renders the entry as "15:04:05.000 LEVEL msg k=v ...", attributes
// sorted by key. Invalid lines are returned unchanged.
func (e Entry) Format() string {
	if !e.Valid {
		return e.Raw
	}
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", e.Time.Format("15:04:05.000"), strings.ToUpper(e.Level), e.Msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}

// Filter selects entries. Zero values match everything.
type Filter struct {
	// MinLevel drops entries below it, and unparsed lines, when set.
	MinLevel string
	Pattern  *regexp.Regexp
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Entry) bool {
	if f.MinLevel != "" && (!e.Valid || ParseLevel(e.Level) < ParseLevel(f.MinLevel)) {
		return false
	}
	if f.Pattern != nil && !f.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

const maxLineBytes = 1 << 20

// Tail returns the matching entries among the last n lines of path.
func Tail(path string, n int, f Filter) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if n <= 0 {
		n = 50
	}
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	var entries []Entry
	for _, line := range ring {
		if e := ParseEntry(line); f.Match(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Follow calls fn for each matching line appended to path after the call,
// until ctx is done.
func Follow(ctx context.Context, path string, f Filter, fn func(Entry)) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for {
			chunk, err := reader.ReadString('\n')
			partial += chunk
			if err != nil {
				// Incomplete line; finish it on the next tick.
				break
			}
			line := strings.TrimSuffix(partial, "\n")
			partial = ""
			if line == "" {
				continue
			}
			if e := ParseEntry(line); f.Match(e) {
				fn(e)
			}
		}
	}
}


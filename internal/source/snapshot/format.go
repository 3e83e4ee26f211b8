package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ccowart83/sio2prom/internal/measurement"
)

// maxLineSize bounds a single encoded measurement.
const maxLineSize = 1 << 20

// Encode writes ms to w as JSON lines, one measurement per line.
func Encode(w io.Writer, ms []measurement.Measurement) error {
	enc := json.NewEncoder(w)
	for i, m := range ms {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encoding measurement %d (%s): %w", i, m.Name, err)
		}
	}
	return nil
}

// Decode reads JSON lines from r. Blank lines are skipped; any malformed line
// fails the whole decode.
func Decode(r io.Reader) ([]measurement.Measurement, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var ms []measurement.Measurement
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var m measurement.Measurement
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if m.Name == "" {
			return nil, fmt.Errorf("line %d: missing name", line)
		}
		if m.Kind == 0 {
			return nil, fmt.Errorf("line %d: missing kind", line)
		}
		ms = append(ms, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}
	return ms, nil
}

package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FileFormat selects the transcript file layout.
type FileFormat string

const (
	// FormatText writes "<timestamp> - <text>" lines.
	FormatText FileFormat = "txt"

	// FormatJSON writes one {"timestamp","text"} object per line.
	FormatJSON FileFormat = "json"
)

// IsValid reports whether f is a recognised format.
func (f FileFormat) IsValid() bool {
	return f == FormatText || f == FormatJSON
}

// timestampLayout matches the transcript log's historical format.
const timestampLayout = "2006-01-02 15:04:05"

// FileSink appends transcript lines to a file. The file is opened and closed
// per write so external tools can read or rotate it between lines.
type FileSink struct {
	path   string
	format FileFormat
}

// NewFileSink returns a sink writing to path in the given format. An empty
// path disables the sink: Append becomes a no-op.
func NewFileSink(path string, format FileFormat) (*FileSink, error) {
	if path != "" && !format.IsValid() {
		return nil, fmt.Errorf("sink: unsupported file format %q", format)
	}
	return &FileSink{path: path, format: format}, nil
}

// jsonRecord is the shape of one FormatJSON line.
type jsonRecord struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// Append writes one transcript record stamped with ts.
func (s *FileSink) Append(ts time.Time, text string) error {
	if s.path == "" {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sink: open %q: %w", s.path, err)
	}
	defer f.Close()

	stamp := ts.Format(timestampLayout)
	switch s.format {
	case FormatJSON:
		line, err := json.Marshal(jsonRecord{Timestamp: stamp, Text: text})
		if err != nil {
			return fmt.Errorf("sink: marshal record: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("sink: write %q: %w", s.path, err)
		}
	default:
		if _, err := fmt.Fprintf(f, "%s - %s\n", stamp, text); err != nil {
			return fmt.Errorf("sink: write %q: %w", s.path, err)
		}
	}
	return nil
}

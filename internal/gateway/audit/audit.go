// Package audit journals gateway request metadata to hourly-rotated,
// zstd-compressed JSONL files.
//
// Only metadata is journaled. Request bodies are never recorded, so the
// password-carrying endpoints stay out of the journal by construction.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entry is one journaled request.
type Entry struct {
	Time   time.Time `json:"time"`
	Path   string    `json:"path"`
	Remote string    `json:"remote"`
	Status int       `json:"status"`
}

// Journal writes entries to hourly files named <prefix>-YYYY-MM-DD-HH.jsonl.zst.
// A nil Journal discards entries, which is how the gateway runs when no audit
// directory is configured.
type Journal struct {
	dir    string
	prefix string

	mu          sync.Mutex
	currentHour string
	file        *os.File
	encoder     *zstd.Encoder
	writer      *bufio.Writer
	clock       func() time.Time
}

// NewJournal creates a journal rooted at dir.
func NewJournal(dir string) *Journal {
	return &Journal{dir: dir, prefix: "requests", clock: time.Now}
}

// Record journals one request.
func (j *Journal) Record(entry Entry) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	hour := j.clock().UTC().Format("2006-01-02-15")
	if hour != j.currentHour {
		if err := j.rotateLocked(hour); err != nil {
			return err
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := j.writer.Write(line); err != nil {
		return err
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return err
	}
	return j.writer.Flush()
}

// Close flushes and closes the current journal file.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) rotateLocked(hour string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(j.dir, fmt.Sprintf("%s-%s.jsonl.zst", j.prefix, hour))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	encoder, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = file.Close()
		return err
	}
	j.file = file
	j.encoder = encoder
	j.writer = bufio.NewWriterSize(encoder, 64*1024)
	j.currentHour = hour
	return nil
}

func (j *Journal) closeLocked() error {
	var closeErr error
	if j.writer != nil {
		_ = j.writer.Flush()
	}
	if j.encoder != nil {
		closeErr = j.encoder.Close()
		j.encoder = nil
	}
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}
	j.writer = nil
	return closeErr
}

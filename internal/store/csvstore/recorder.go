// Package csvstore persists acquisition metadata as one CSV row per video,
// the dataset's native interchange format.
package csvstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/crossinglab/vidharvest/internal/harvest"
)

// DefaultFilename is the store created inside the artifact directory.
const DefaultFilename = "video_metadata.csv"

var header = []string{
	"video_id",
	"title",
	"url",
	"channel",
	"duration_seconds",
	"view_count",
	"published_at",
	"search_term",
	"source",
	"download_date",
	"filename",
	"description",
}

// Recorder appends rows to a CSV file. Writes are serialized internally and
// flushed to disk per row so a crash never corrupts prior rows; at worst the
// newest video file is left as an observable orphan without its row. The
// artifact file on disk is ground truth, the row is the index over it.
type Recorder struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// Open creates or appends to the store at path, writing the header only when
// the file is fresh.
func Open(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open metadata store %s: %w", path, err)
	}

	r := &Recorder{
		path: path,
		file: file,
		w:    csv.NewWriter(file),
	}
	if fresh {
		if err := r.writeRow(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("write store header: %w", err)
		}
	}
	return r, nil
}

// Append writes one row for a successful acquisition.
func (r *Recorder) Append(ctx context.Context, rec harvest.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.VideoID == "" {
		return fmt.Errorf("record video id is required")
	}
	return r.writeRow([]string{
		rec.VideoID,
		rec.Title,
		rec.URL,
		rec.Channel,
		strconv.Itoa(rec.DurationSeconds),
		strconv.FormatInt(rec.ViewCount, 10),
		rec.PublishedAt,
		rec.SearchTerm,
		rec.Source,
		rec.DownloadedAt.UTC().Format(time.RFC3339),
		rec.Filename,
		rec.Description,
	})
}

func (r *Recorder) writeRow(row []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("flush row: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("sync store: %w", err)
	}
	return nil
}

// KnownIDs reads back every identifier already recorded, enabling the
// cross-run check that keeps successful videos from being re-attempted.
func (r *Recorder) KnownIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var ids []string
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read metadata store: %w", err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == header[0] {
				continue
			}
		}
		if len(row) > 0 && row[0] != "" {
			ids = append(ids, row[0])
		}
	}
	return ids, nil
}

// Close releases the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		r.file.Close()
		return fmt.Errorf("flush on close: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close metadata store: %w", err)
	}
	return nil
}

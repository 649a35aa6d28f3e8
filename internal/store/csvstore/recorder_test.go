package csvstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossinglab/vidharvest/internal/harvest"
)

func sampleRecord(id string) harvest.Record {
	return harvest.Record{
		VideoID:         id,
		Title:           "Crossing near miss, downtown",
		URL:             "https://www.youtube.com/watch?v=" + id,
		Channel:         "Safety Org",
		DurationSeconds: 90,
		ViewCount:       1234,
		PublishedAt:     "2024-05-01T00:00:00Z",
		SearchTerm:      "pedestrian near miss video",
		Source:          "youtube",
		DownloadedAt:    time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC),
		Filename:        id + "_Crossing near miss downtown.mp4",
		Description:     "dashcam, two lanes",
	}
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestOpenWritesHeaderOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFilename)

	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Append(context.Background(), sampleRecord("vid1")))
	require.NoError(t, r.Close())

	r, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Append(context.Background(), sampleRecord("vid2")))
	require.NoError(t, r.Close())

	rows := readAll(t, path)
	require.Len(t, rows, 3)
	require.Equal(t, header, rows[0])
	require.Equal(t, "vid1", rows[1][0])
	require.Equal(t, "vid2", rows[2][0])
}

func TestAppendRowContents(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFilename)
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Append(context.Background(), sampleRecord("vid1")))

	rows := readAll(t, path)
	require.Len(t, rows, 2)
	row := rows[1]
	require.Equal(t, "vid1", row[0])
	require.Equal(t, "Crossing near miss, downtown", row[1])
	require.Equal(t, "90", row[4])
	require.Equal(t, "1234", row[5])
	require.Equal(t, "youtube", row[8])
	require.Equal(t, "2026-08-29T10:30:00Z", row[9])
}

func TestAppendRejectsEmptyID(t *testing.T) {
	t.Parallel()

	r, err := Open(filepath.Join(t.TempDir(), DefaultFilename))
	require.NoError(t, err)
	defer r.Close()

	require.Error(t, r.Append(context.Background(), harvest.Record{}))
}

func TestKnownIDs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFilename)
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	ids, err := r.KnownIDs(context.Background())
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, r.Append(context.Background(), sampleRecord("vid1")))
	require.NoError(t, r.Append(context.Background(), sampleRecord("vid2")))

	ids, err = r.KnownIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"vid1", "vid2"}, ids)
}

func TestAppendIsSafeUnderConcurrency(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFilename)
	r, err := Open(path)
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.Append(context.Background(), sampleRecord(fmt.Sprintf("vid%02d", n)))
		}(i)
	}
	wg.Wait()
	require.NoError(t, r.Close())

	rows := readAll(t, path)
	require.Len(t, rows, writers+1, "every row must be intact")
}

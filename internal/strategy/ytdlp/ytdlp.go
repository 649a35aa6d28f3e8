// Package ytdlp implements the primary acquisition strategy by shelling out
// to the yt-dlp extractor, the most resilient option against remote format
// churn.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crossinglab/vidharvest/internal/harvest"
	"github.com/crossinglab/vidharvest/internal/metrics"
)

const (
	defaultBinary  = "yt-dlp"
	defaultTimeout = 10 * time.Minute
	defaultFormat  = "best[ext=mp4]/best"
	// Downloads below this size are considered corrupt placeholders.
	defaultMinBytes = 10 * 1024

	stagingDirName = ".staging"
)

// Config controls the subprocess invocation.
type Config struct {
	Binary    string
	Timeout   time.Duration
	OutputDir string
	Format    string
	MinBytes  int64
}

// runner abstracts subprocess execution so tests never spawn yt-dlp.
type runner func(ctx context.Context, binary string, args []string) (stdout, stderr []byte, err error)

// Strategy downloads one video per Attempt via yt-dlp.
type Strategy struct {
	cfg    Config
	gate   harvest.Gate
	logger *zap.Logger
	run    runner
}

// New builds the strategy.
func New(cfg Config, gate harvest.Gate, logger *zap.Logger) *Strategy {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Format == "" {
		cfg.Format = defaultFormat
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = defaultMinBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		cfg:    cfg,
		gate:   gate,
		logger: logger,
		run:    execRunner,
	}
}

// Name identifies the strategy in the chain order and in logs.
func (s *Strategy) Name() string { return "ytdlp" }

// CheckInstalled verifies the binary is reachable before a run starts.
func (s *Strategy) CheckInstalled(ctx context.Context) error {
	if _, _, err := s.run(ctx, s.cfg.Binary, []string{"--version"}); err != nil {
		return fmt.Errorf("yt-dlp not available at %q: %w", s.cfg.Binary, err)
	}
	return nil
}

// Attempt downloads the candidate into the staging area, validates it, and
// finalizes it under the deterministic artifact name. All failures come back
// classified; the final path never holds a partial file.
func (s *Strategy) Attempt(
	ctx context.Context,
	cand harvest.Candidate,
	cons harvest.Constraints,
) (*harvest.Acquisition, error) {
	const op = "ytdlp attempt"
	start := time.Now()
	defer func() { metrics.ObserveStrategyDuration(s.Name(), time.Since(start)) }()

	if cand.Title != "" {
		final := filepath.Join(s.cfg.OutputDir, harvest.Filename(cand.ID, cand.Title))
		if _, err := os.Stat(final); err == nil {
			return nil, harvest.Failf(harvest.ReasonAlreadySaved, op, cand.ID,
				fmt.Errorf("artifact exists at %s", final))
		}
	}

	staging := filepath.Join(s.cfg.OutputDir, stagingDirName)
	if err := os.MkdirAll(staging, 0o750); err != nil {
		return nil, harvest.Failf(harvest.ReasonUnknown, op, cand.ID,
			fmt.Errorf("create staging dir: %w", err))
	}
	template := filepath.Join(staging, cand.ID+".%(ext)s")

	if s.gate != nil {
		if err := s.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"--format", s.cfg.Format,
		"--print-json",
		"--output", template,
		cand.WatchURL(),
	}
	stdout, stderr, err := s.run(runCtx, s.cfg.Binary, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, harvest.Failf(harvest.ReasonTransientNetwork, op, cand.ID,
				fmt.Errorf("extractor timed out after %s", s.cfg.Timeout))
		}
		return nil, harvest.Failf(classifyStderr(string(stderr)), op, cand.ID,
			fmt.Errorf("yt-dlp: %w: %s", err, firstLine(string(stderr))))
	}

	info, err := parseInfo(stdout)
	if err != nil {
		return nil, harvest.Failf(harvest.ReasonUnknown, op, cand.ID, err)
	}
	partial := info.downloadedPath()
	if partial == "" {
		partial = filepath.Join(staging, cand.ID+".mp4")
	}

	duration := int(info.Duration)
	if duration > 0 && !cons.Allows(duration) {
		discard(partial)
		return nil, harvest.Failf(harvest.ReasonDurationOutOfRange, op, cand.ID,
			fmt.Errorf("duration %ds outside [%d,%d]",
				duration, cons.MinDurationSeconds, cons.MaxDurationSeconds))
	}

	stat, err := os.Stat(partial)
	if err != nil {
		return nil, harvest.Failf(harvest.ReasonUnknown, op, cand.ID,
			fmt.Errorf("downloaded file missing: %w", err))
	}
	if stat.Size() < s.cfg.MinBytes {
		discard(partial)
		return nil, harvest.Failf(harvest.ReasonTransientNetwork, op, cand.ID,
			fmt.Errorf("payload %d bytes below minimum %d", stat.Size(), s.cfg.MinBytes))
	}

	title := info.Title
	if title == "" {
		title = cand.Title
	}
	filename := harvest.Filename(cand.ID, title)
	final := filepath.Join(s.cfg.OutputDir, filename)
	if _, err := os.Stat(final); err == nil {
		discard(partial)
		return nil, harvest.Failf(harvest.ReasonAlreadySaved, op, cand.ID,
			fmt.Errorf("artifact exists at %s", final))
	}
	if err := os.Rename(partial, final); err != nil {
		discard(partial)
		return nil, harvest.Failf(harvest.ReasonUnknown, op, cand.ID,
			fmt.Errorf("finalize artifact: %w", err))
	}
	metrics.AddBytes(stat.Size())

	return &harvest.Acquisition{
		Path:            final,
		Filename:        filename,
		Title:           title,
		Channel:         info.channelName(),
		Description:     info.Description,
		DurationSeconds: duration,
		ViewCount:       info.ViewCount,
		PublishedAt:     info.publishedAt(),
	}, nil
}

func discard(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

// info mirrors the slice of yt-dlp's JSON output the pipeline cares about.
type info struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	ViewCount   int64   `json:"view_count"`
	Uploader    string  `json:"uploader"`
	Channel     string  `json:"channel"`
	UploadDate  string  `json:"upload_date"` // YYYYMMDD
	Timestamp   int64   `json:"timestamp"`
	Filename    string  `json:"_filename"`

	RequestedDownloads []struct {
		Filepath string `json:"filepath"`
	} `json:"requested_downloads"`
}

func parseInfo(stdout []byte) (*info, error) {
	line := bytes.TrimSpace(stdout)
	if idx := bytes.LastIndexByte(line, '\n'); idx >= 0 {
		line = line[idx+1:]
	}
	var out info
	if err := json.Unmarshal(line, &out); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}
	return &out, nil
}

func (i *info) downloadedPath() string {
	if len(i.RequestedDownloads) > 0 && i.RequestedDownloads[0].Filepath != "" {
		return i.RequestedDownloads[0].Filepath
	}
	return i.Filename
}

func (i *info) channelName() string {
	if i.Channel != "" {
		return i.Channel
	}
	return i.Uploader
}

func (i *info) publishedAt() string {
	if i.Timestamp > 0 {
		return time.Unix(i.Timestamp, 0).UTC().Format(time.RFC3339)
	}
	if i.UploadDate != "" {
		if t, err := time.Parse("20060102", i.UploadDate); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return ""
}

// classifyStderr maps yt-dlp error text onto the failure taxonomy.
func classifyStderr(stderr string) harvest.Reason {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "has been removed"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "private video"),
		strings.Contains(lower, "404"):
		return harvest.ReasonNotFound
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "rate-limit"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "forbidden"),
		strings.Contains(lower, "sign in to confirm"):
		return harvest.ReasonRateLimited
	case strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "temporary failure"),
		strings.Contains(lower, "network is unreachable"):
		return harvest.ReasonTransientNetwork
	default:
		return harvest.ReasonUnknown
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func execRunner(ctx context.Context, binary string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

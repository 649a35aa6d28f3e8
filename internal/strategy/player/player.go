// Package player implements the fallback acquisition strategy: fetch the
// watch page, lift the embedded player response, and stream the best
// progressive format directly. More brittle than the extractor, used only
// after it fails for a non-terminal reason.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/crossinglab/vidharvest/internal/harvest"
	"github.com/crossinglab/vidharvest/internal/metrics"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/111.0.0.0 Safari/537.36"
	defaultTimeout   = 5 * time.Minute
	defaultMinBytes  = 10 * 1024

	playerResponseMarker = "ytInitialPlayerResponse = "
)

// Config controls the fallback strategy.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	OutputDir string
	MinBytes  int64
}

// Strategy resolves a playable stream URL and downloads it over plain HTTP.
type Strategy struct {
	cfg    Config
	gate   harvest.Gate
	logger *zap.Logger
	client *http.Client
}

// New builds the strategy.
func New(cfg Config, gate harvest.Gate, logger *zap.Logger) *Strategy {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.youtube.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
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
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name identifies the strategy in the chain order and in logs.
func (s *Strategy) Name() string { return "player" }

// Attempt fetches the watch page, validates eligibility, and streams the
// chosen format into a temporary file that is renamed only on full success.
func (s *Strategy) Attempt(
	ctx context.Context,
	cand harvest.Candidate,
	cons harvest.Constraints,
) (*harvest.Acquisition, error) {
	const op = "player attempt"
	start := time.Now()
	defer func() { metrics.ObserveStrategyDuration(s.Name(), time.Since(start)) }()

	if s.gate != nil {
		if err := s.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	html, err := s.fetchWatchPage(ctx, cand.ID)
	if err != nil {
		return nil, err
	}

	pr, err := extractPlayerResponse(html)
	if err != nil {
		return nil, harvest.Failf(harvest.ReasonUnknown, op, cand.ID, err)
	}
	if reason, err := pr.eligibility(); err != nil {
		return nil, harvest.Failf(reason, op, cand.ID, err)
	}

	duration := pr.durationSeconds()
	if duration > 0 && !cons.Allows(duration) {
		return nil, harvest.Failf(harvest.ReasonDurationOutOfRange, op, cand.ID,
			fmt.Errorf("duration %ds outside [%d,%d]",
				duration, cons.MinDurationSeconds, cons.MaxDurationSeconds))
	}

	streamURL := pr.bestStreamURL()
	if streamURL == "" {
		return nil, harvest.Failf(harvest.ReasonUnknown, op, cand.ID,
			errors.New("no playable progressive stream in player response"))
	}

	title := pr.VideoDetails.Title
	if title == "" {
		title = cand.Title
	}
	filename := harvest.Filename(cand.ID, title)
	final := filepath.Join(s.cfg.OutputDir, filename)
	if _, err := os.Stat(final); err == nil {
		return nil, harvest.Failf(harvest.ReasonAlreadySaved, op, cand.ID,
			fmt.Errorf("artifact exists at %s", final))
	}

	size, err := s.downloadStream(ctx, cand.ID, streamURL, final)
	if err != nil {
		return nil, err
	}
	metrics.AddBytes(size)

	return &harvest.Acquisition{
		Path:            final,
		Filename:        filename,
		Title:           title,
		Channel:         pr.VideoDetails.Author,
		Description:     pr.VideoDetails.ShortDescription,
		DurationSeconds: duration,
		ViewCount:       pr.viewCount(),
	}, nil
}

// fetchWatchPage pulls the watch page HTML through a fresh collector.
func (s *Strategy) fetchWatchPage(ctx context.Context, videoID string) (string, error) {
	const op = "player fetch page"

	var (
		body       []byte
		statusCode int
		visitErr   error
	)
	c := colly.NewCollector(
		colly.UserAgent(s.cfg.UserAgent),
	)
	c.SetRequestTimeout(s.cfg.Timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		if err := ctx.Err(); err != nil {
			r.Abort()
			visitErr = err
		}
	})
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		visitErr = err
	})

	if err := c.Visit(s.cfg.BaseURL + "/watch?v=" + videoID); err != nil && visitErr == nil {
		visitErr = err
	}
	c.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if visitErr != nil || statusCode >= 400 {
		reason := classifyHTTP(statusCode, visitErr)
		return "", harvest.Failf(reason, op, videoID,
			fmt.Errorf("watch page status %d: %w", statusCode, visitErr))
	}
	if len(body) == 0 {
		return "", harvest.Failf(harvest.ReasonTransientNetwork, op, videoID,
			errors.New("empty watch page body"))
	}
	return string(body), nil
}

// downloadStream writes the payload to a temporary file in the artifact
// directory and renames it into place only after the full body arrived and
// passed the size floor.
func (s *Strategy) downloadStream(ctx context.Context, videoID, streamURL, final string) (int64, error) {
	const op = "player download"

	if s.gate != nil {
		if err := s.gate.Wait(ctx); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return 0, harvest.Failf(harvest.ReasonUnknown, op, videoID, err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, harvest.Failf(classifyHTTP(0, err), op, videoID,
			fmt.Errorf("fetch stream: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, harvest.Failf(classifyHTTP(resp.StatusCode, nil), op, videoID,
			fmt.Errorf("stream status %d", resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o750); err != nil {
		return 0, harvest.Failf(harvest.ReasonUnknown, op, videoID, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(final), ".vidharvest-*.part")
	if err != nil {
		return 0, harvest.Failf(harvest.ReasonUnknown, op, videoID,
			fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	written, err := io.Copy(tmp, resp.Body)
	if err != nil {
		cleanup()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, harvest.Failf(harvest.ReasonTransientNetwork, op, videoID,
			fmt.Errorf("stream copy after %d bytes: %w", written, err))
	}
	if written < s.cfg.MinBytes {
		cleanup()
		return 0, harvest.Failf(harvest.ReasonTransientNetwork, op, videoID,
			fmt.Errorf("payload %d bytes below minimum %d", written, s.cfg.MinBytes))
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, harvest.Failf(harvest.ReasonUnknown, op, videoID,
			fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, harvest.Failf(harvest.ReasonUnknown, op, videoID,
			fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return 0, harvest.Failf(harvest.ReasonUnknown, op, videoID,
			fmt.Errorf("finalize artifact: %w", err))
	}
	return written, nil
}

// playerResponse mirrors the slice of the embedded player JSON the fallback
// needs.
type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		VideoID          string `json:"videoId"`
		Title            string `json:"title"`
		Author           string `json:"author"`
		LengthSeconds    string `json:"lengthSeconds"`
		ViewCount        string `json:"viewCount"`
		ShortDescription string `json:"shortDescription"`
	} `json:"videoDetails"`
	StreamingData struct {
		Formats         []streamFormat `json:"formats"`
		AdaptiveFormats []streamFormat `json:"adaptiveFormats"`
	} `json:"streamingData"`
}

type streamFormat struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Height   int    `json:"height"`
}

// extractPlayerResponse locates the embedded JSON and decodes exactly one
// object from it, ignoring the script text that follows.
func extractPlayerResponse(html string) (*playerResponse, error) {
	idx := strings.Index(html, playerResponseMarker)
	if idx < 0 {
		return nil, errors.New("player response not present in watch page")
	}
	dec := json.NewDecoder(strings.NewReader(html[idx+len(playerResponseMarker):]))
	var pr playerResponse
	if err := dec.Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode player response: %w", err)
	}
	return &pr, nil
}

func (pr *playerResponse) eligibility() (harvest.Reason, error) {
	switch pr.PlayabilityStatus.Status {
	case "", "OK":
		return "", nil
	case "ERROR":
		return harvest.ReasonNotFound,
			fmt.Errorf("playability error: %s", pr.PlayabilityStatus.Reason)
	case "LOGIN_REQUIRED":
		return harvest.ReasonRateLimited,
			fmt.Errorf("login wall: %s", pr.PlayabilityStatus.Reason)
	default:
		return harvest.ReasonUnknown,
			fmt.Errorf("playability %s: %s", pr.PlayabilityStatus.Status, pr.PlayabilityStatus.Reason)
	}
}

func (pr *playerResponse) durationSeconds() int {
	n, err := strconv.Atoi(pr.VideoDetails.LengthSeconds)
	if err != nil {
		return 0
	}
	return n
}

func (pr *playerResponse) viewCount() int64 {
	n, err := strconv.ParseInt(pr.VideoDetails.ViewCount, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// bestStreamURL prefers the tallest progressive format, falling back to the
// tallest mp4 adaptive video stream.
func (pr *playerResponse) bestStreamURL() string {
	if url := tallest(pr.StreamingData.Formats, func(streamFormat) bool { return true }); url != "" {
		return url
	}
	return tallest(pr.StreamingData.AdaptiveFormats, func(f streamFormat) bool {
		return strings.HasPrefix(f.MimeType, "video/mp4")
	})
}

func tallest(formats []streamFormat, keep func(streamFormat) bool) string {
	usable := make([]streamFormat, 0, len(formats))
	for _, f := range formats {
		if f.URL != "" && keep(f) {
			usable = append(usable, f)
		}
	}
	if len(usable) == 0 {
		return ""
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i].Height > usable[j].Height })
	return usable[0].URL
}

func classifyHTTP(status int, err error) harvest.Reason {
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return harvest.ReasonNotFound
	case http.StatusForbidden, http.StatusTooManyRequests:
		return harvest.ReasonRateLimited
	}
	if status >= 500 {
		return harvest.ReasonTransientNetwork
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return harvest.ReasonTransientNetwork
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return harvest.ReasonTransientNetwork
		}
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "connection reset") || strings.Contains(lower, "timeout") {
			return harvest.ReasonTransientNetwork
		}
	}
	return harvest.ReasonUnknown
}

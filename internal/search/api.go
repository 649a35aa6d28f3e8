// Package search supplies candidate sequences from the video host's search
// surfaces. The pipeline core makes no assumption about which source produced
// a candidate.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/crossinglab/vidharvest/internal/harvest"
)

// DefaultTerms is the topical query set used when the operator supplies none.
var DefaultTerms = []string{
	"pedestrian near miss video",
	"pedestrian accident footage",
	"pedestrian crossing danger cctv",
	"pedestrian safety violation video",
	"pedestrian hazard dashcam",
	"pedestrian traffic incident footage",
	"pedestrian close call video",
	"pedestrian intersection danger",
	"road safety pedestrian accident",
	"crosswalk safety violation",
}

const defaultAPIBase = "https://www.googleapis.com/youtube/v3"

// APIConfig controls the Data API source.
type APIConfig struct {
	APIKey     string
	BaseURL    string
	Terms      []string
	MaxPerTerm int
	Timeout    time.Duration
}

// APISource walks the configured terms lazily, one search + one details call
// per term, shuffling each term's batch for variety before serving it.
type APISource struct {
	cfg    APIConfig
	client *http.Client
	gate   harvest.Gate
	logger *zap.Logger
	rng    *rand.Rand

	buf     []harvest.Candidate
	termIdx int
}

// NewAPISource builds the source.
func NewAPISource(cfg APIConfig, gate harvest.Gate, logger *zap.Logger) (*APISource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("search api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAPIBase
	}
	if len(cfg.Terms) == 0 {
		cfg.Terms = DefaultTerms
	}
	if cfg.MaxPerTerm <= 0 {
		cfg.MaxPerTerm = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APISource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		gate:   gate,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Next serves the next candidate, fetching the next term's batch on demand. A
// failed term is logged and skipped; the sequence drains when every term has
// been consumed.
func (s *APISource) Next(ctx context.Context) (harvest.Candidate, error) {
	for len(s.buf) == 0 {
		if err := ctx.Err(); err != nil {
			return harvest.Candidate{}, err
		}
		if s.termIdx >= len(s.cfg.Terms) {
			return harvest.Candidate{}, harvest.ErrSourceDrained
		}
		term := s.cfg.Terms[s.termIdx]
		s.termIdx++

		batch, err := s.fetchTerm(ctx, term)
		if err != nil {
			if ctx.Err() != nil {
				return harvest.Candidate{}, ctx.Err()
			}
			s.logger.Warn("search term failed",
				zap.String("term", term),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("search term resolved",
			zap.String("term", term),
			zap.Int("candidates", len(batch)),
		)
		s.rng.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
		s.buf = batch
	}

	cand := s.buf[0]
	s.buf = s.buf[1:]
	return cand, nil
}

func (s *APISource) fetchTerm(ctx context.Context, term string) ([]harvest.Candidate, error) {
	ids, err := s.searchIDs(ctx, term)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.videoDetails(ctx, ids, term)
}

func (s *APISource) searchIDs(ctx context.Context, term string) ([]string, error) {
	params := url.Values{}
	params.Set("part", "id")
	params.Set("q", term)
	params.Set("type", "video")
	params.Set("maxResults", strconv.Itoa(s.cfg.MaxPerTerm))
	params.Set("videoEmbeddable", "true")
	params.Set("videoSyndicated", "true")
	params.Set("safeSearch", "moderate")
	params.Set("key", s.cfg.APIKey)

	var payload struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
		} `json:"items"`
	}
	if err := s.getJSON(ctx, s.cfg.BaseURL+"/search?"+params.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}

	ids := make([]string, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	return ids, nil
}

func (s *APISource) videoDetails(ctx context.Context, ids []string, term string) ([]harvest.Candidate, error) {
	params := url.Values{}
	params.Set("part", "snippet,contentDetails,statistics")
	params.Set("id", joinIDs(ids))
	params.Set("key", s.cfg.APIKey)

	var payload struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title        string `json:"title"`
				Description  string `json:"description"`
				ChannelTitle string `json:"channelTitle"`
				PublishedAt  string `json:"publishedAt"`
			} `json:"snippet"`
			ContentDetails struct {
				Duration string `json:"duration"`
			} `json:"contentDetails"`
			Statistics struct {
				ViewCount string `json:"viewCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	if err := s.getJSON(ctx, s.cfg.BaseURL+"/videos?"+params.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("video details for %q: %w", term, err)
	}

	candidates := make([]harvest.Candidate, 0, len(payload.Items))
	for _, item := range payload.Items {
		viewCount, _ := strconv.ParseInt(item.Statistics.ViewCount, 10, 64)
		candidates = append(candidates, harvest.Candidate{
			ID:              item.ID,
			Title:           item.Snippet.Title,
			Channel:         item.Snippet.ChannelTitle,
			Description:     item.Snippet.Description,
			URL:             "https://www.youtube.com/watch?v=" + item.ID,
			DurationSeconds: ParseISODuration(item.ContentDetails.Duration),
			ViewCount:       viewCount,
			PublishedAt:     item.Snippet.PublishedAt,
			SearchTerm:      term,
		})
	}
	return candidates, nil
}

func (s *APISource) getJSON(ctx context.Context, rawURL string, out any) error {
	if s.gate != nil {
		if err := s.gate.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

var isoDurationPart = regexp.MustCompile(`(\d+)([HMS])`)

// ParseISODuration converts the API's ISO-8601 durations (PT#H#M#S) into
// whole seconds. Malformed input yields zero, meaning unknown.
func ParseISODuration(raw string) int {
	total := 0
	for _, match := range isoDurationPart.FindAllStringSubmatch(raw, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		switch match[2] {
		case "H":
			total += n * 3600
		case "M":
			total += n * 60
		case "S":
			total += n
		}
	}
	return total
}

package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/crossinglab/vidharvest/internal/harvest"
)

// BrowserConfig controls the headless search source.
type BrowserConfig struct {
	Terms        []string
	MaxPerTerm   int
	ScrollPasses int
	NavTimeout   time.Duration
	UserAgent    string
}

// BrowserSource discovers candidates by driving a headless browser across the
// host's result pages. It exists for runs without an API credential; durations
// stay unknown until a strategy probes them.
type BrowserSource struct {
	cfg             BrowserConfig
	logger          *zap.Logger
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	buf     []harvest.Candidate
	termIdx int
	seen    map[string]struct{}
}

// NewBrowserSource starts a shared headless browser for the whole run.
func NewBrowserSource(cfg BrowserConfig, logger *zap.Logger) (*BrowserSource, error) {
	if len(cfg.Terms) == 0 {
		cfg.Terms = DefaultTerms
	}
	if cfg.MaxPerTerm <= 0 {
		cfg.MaxPerTerm = 30
	}
	if cfg.ScrollPasses <= 0 {
		cfg.ScrollPasses = 3
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("browser warmup: %w", err)
	}

	return &BrowserSource{
		cfg:             cfg,
		logger:          logger,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		seen:            make(map[string]struct{}),
	}, nil
}

// Next serves discovered candidates term by term.
func (s *BrowserSource) Next(ctx context.Context) (harvest.Candidate, error) {
	for len(s.buf) == 0 {
		if err := ctx.Err(); err != nil {
			return harvest.Candidate{}, err
		}
		if s.termIdx >= len(s.cfg.Terms) {
			return harvest.Candidate{}, harvest.ErrSourceDrained
		}
		term := s.cfg.Terms[s.termIdx]
		s.termIdx++

		batch, err := s.scrapeTerm(ctx, term)
		if err != nil {
			s.logger.Warn("browser search failed",
				zap.String("term", term),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("browser search resolved",
			zap.String("term", term),
			zap.Int("candidates", len(batch)),
		)
		s.buf = batch
	}

	cand := s.buf[0]
	s.buf = s.buf[1:]
	return cand, nil
}

type resultLink struct {
	Href  string `json:"href"`
	Title string `json:"title"`
}

const collectLinksJS = `Array.from(document.querySelectorAll('a#video-title'))
	.map(a => ({href: a.href, title: (a.textContent || '').trim()}))`

func (s *BrowserSource) scrapeTerm(ctx context.Context, term string) ([]harvest.Candidate, error) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	defer cancel()
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, s.cfg.NavTimeout)
	defer timeoutCancel()

	// Tie the tab lifetime to the run context.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	searchURL := "https://www.youtube.com/results?search_query=" + url.QueryEscape(term)

	var links []resultLink
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(1280, 900, 1.0, false),
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body"),
	}
	for i := 0; i < s.cfg.ScrollPasses; i++ {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.documentElement.scrollHeight)`, nil),
			chromedp.Sleep(1500*time.Millisecond),
		)
	}
	actions = append(actions, chromedp.Evaluate(collectLinksJS, &links))

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, fmt.Errorf("drive results page: %w", err)
	}

	candidates := make([]harvest.Candidate, 0, len(links))
	for _, link := range links {
		id := watchID(link.Href)
		if id == "" {
			continue
		}
		if _, dup := s.seen[id]; dup {
			continue
		}
		s.seen[id] = struct{}{}
		candidates = append(candidates, harvest.Candidate{
			ID:         id,
			Title:      link.Title,
			URL:        "https://www.youtube.com/watch?v=" + id,
			SearchTerm: term,
		})
		if len(candidates) >= s.cfg.MaxPerTerm {
			break
		}
	}
	return candidates, nil
}

// Close tears the shared browser down.
func (s *BrowserSource) Close() {
	s.browserCancel()
	s.allocatorCancel()
}

func watchID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.Contains(u.Host, "youtu.be") {
		return strings.Trim(u.Path, "/")
	}
	if !strings.HasPrefix(u.Path, "/watch") {
		return ""
	}
	return u.Query().Get("v")
}

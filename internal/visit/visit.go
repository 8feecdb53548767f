// Package visit is the default job function: it fetches a page, extracts
// CSS-selected values and appends them as a dataset row.
package visit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"crawlchain/internal/job/runner"
	logx "crawlchain/pkg/logx"
)

const (
	DefaultTimeout   = 60 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36 crawlchain/1.0"
)

var ErrUnknownDriver = errors.New("unknown visit driver")

// Config configures the page fetcher.
//
// Driver values:
//   - "http": plain GET, no script execution (default)
//   - "browser": headless Chrome through the DevTools protocol
type Config struct {
	Driver    string
	Timeout   time.Duration
	UserAgent string
	Headless  bool
	ExecPath  string
	Proxy     string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = DefaultUserAgent
	}
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "" {
		c.Driver = "http"
	}
	return c
}

// Fetcher returns the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

// RowWriter receives one extracted row per successful visit.
type RowWriter interface {
	Write(url string, values map[string]string) error
}

// NewFetcher builds the fetcher named by cfg.Driver.
func NewFetcher(cfg Config, log logx.Logger) (Fetcher, error) {
	cfg = cfg.withDefaults()
	switch cfg.Driver {
	case "http":
		return NewHTTPFetcher(cfg)
	case "browser":
		return NewBrowserFetcher(cfg, log), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

// Visitor turns a page URL into a dataset row.
type Visitor struct {
	fetcher   Fetcher
	selectors map[string]Selector
	columns   []string
	required  []string
	out       RowWriter
	timeout   time.Duration
	log       logx.Logger
}

// NewVisitor parses selectors (column -> "css" or "css@attr"). out may be nil.
func NewVisitor(f Fetcher, selectors map[string]string, required []string, out RowWriter, timeout time.Duration, log logx.Logger) (*Visitor, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	parsed := make(map[string]Selector, len(selectors))
	for col, raw := range selectors {
		sel, err := ParseSelector(raw)
		if err != nil {
			return nil, fmt.Errorf("selector %s: %w", col, err)
		}
		parsed[col] = sel
	}
	for _, col := range required {
		if _, ok := parsed[col]; !ok {
			return nil, fmt.Errorf("required column %q has no selector", col)
		}
	}
	return &Visitor{
		fetcher:   f,
		selectors: parsed,
		columns:   Columns(selectors),
		required:  required,
		out:       out,
		timeout:   timeout,
		log:       log.With(logx.String("comp", "visit")),
	}, nil
}

// Columns returns the dataset columns for selectors, sorted.
func Columns(selectors map[string]string) []string {
	cols := make([]string, 0, len(selectors))
	for c := range selectors {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Visit is a job.Func.
func (v *Visitor) Visit(ctx context.Context, url string) error {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	html, err := v.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	values, err := Extract(html, v.selectors)
	if err != nil {
		return err
	}

	var missing []string
	for _, col := range v.required {
		if values[col] == "" {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return runner.NoRetry(fmt.Errorf("required fields empty: %s", strings.Join(missing, ", ")))
	}

	if v.out != nil {
		if err := v.out.Write(url, values); err != nil {
			return runner.NoRetry(fmt.Errorf("write dataset row: %w", err))
		}
	}
	v.log.Trace("page extracted", logx.String("url", url), logx.Int("columns", len(v.columns)))
	return nil
}

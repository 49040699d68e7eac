// Package analytics probes published articles for liveness.
package analytics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Result is one probe outcome.
type Result struct {
	URL          string
	StatusCode   int
	Live         bool
	Title        string
	ResponseTime time.Duration
}

// Prober issues a single GET per URL with Colly.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Prober.
func New(cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "rankyak-analytics/1.0"
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Prober{cfg: cfg, baseCollector: c}
}

// Probe fetches url and reports its status. Transport failures are returned
// as errors; non-2xx responses are results with Live false.
func (p *Prober) Probe(ctx context.Context, url string) (Result, error) {
	var (
		result   = Result{URL: url}
		probeErr error
	)
	start := time.Now()
	collector := p.buildCollector()
	p.configureHooks(collector, start, &result, &probeErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return result, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && result.StatusCode == 0 {
			return result, fmt.Errorf("probe visit failed: %w", err)
		}
		if probeErr != nil {
			return result, fmt.Errorf("probe response failed: %w", probeErr)
		}
		return result, nil
	}
}

func (p *Prober) buildCollector() *colly.Collector {
	collector := p.baseCollector.Clone()
	collector.UserAgent = p.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(p.cfg.Timeout)
	return collector
}

func (p *Prober) configureHooks(hooks collectorHooks, start time.Time, result *Result, probeErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		result.Live = r.StatusCode >= 200 && r.StatusCode < 300
		result.ResponseTime = time.Since(start)
	})
	hooks.OnHTML("title", func(e *colly.HTMLElement) {
		if result.Title == "" {
			result.Title = strings.TrimSpace(e.Text)
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result.StatusCode = r.StatusCode
			result.ResponseTime = time.Since(start)
			return
		}
		*probeErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
	}
}

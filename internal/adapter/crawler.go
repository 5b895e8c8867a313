package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultCrawlTimeout = 5 * time.Minute

// HTTPCrawler implements Crawler against a headless-crawler sidecar
// exposing a POST /crawl endpoint.
type HTTPCrawler struct {
	client *resty.Client
}

// NewHTTPCrawler builds a client for the sidecar at baseURL.
func NewHTTPCrawler(baseURL string) *HTTPCrawler {
	return &HTTPCrawler{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultCrawlTimeout),
	}
}

type crawlRequest struct {
	URLs []string `json:"urls"`
	CrawlSpec
}

// Crawl submits the URL batch and decodes the per-URL results.
func (c *HTTPCrawler) Crawl(ctx context.Context, urls []string, spec CrawlSpec) ([]CrawlResult, error) {
	var results []CrawlResult
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(crawlRequest{URLs: urls, CrawlSpec: spec}).
		SetResult(&results).
		Post("/crawl")
	if err != nil {
		return nil, fmt.Errorf("crawler request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("crawler returned status %d", resp.StatusCode())
	}
	return results, nil
}

package proxy

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/header-rotator/internal/types"
	log "github.com/sirupsen/logrus"
)

// Matches IP:PORT with an optional scheme prefix, the common format of public
// proxy list feeds.
var proxyLineRegex = regexp.MustCompile(`(?:(socks5|https?)://)?(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}):(\d{2,5})`)

// SourceStats summarizes one feed fetch for the /stat endpoint.
type SourceStats struct {
	URL          string `json:"url"`
	ProxiesFound int    `json:"proxies_found"`
	Error        string `json:"error,omitempty"`
}

// Fetcher pulls proxy lists from remote newline feeds. It only understands
// "lines of proxy URLs"; feed-specific API formats are out of scope.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// FetchAll queries every source concurrently and returns the deduplicated
// union. A failing source is reported in its stats but never fails the batch.
func (f *Fetcher) FetchAll(ctx context.Context, sources []string) ([]types.ProxyEndpoint, map[string]SourceStats) {
	var wg sync.WaitGroup
	resultChan := make(chan []types.ProxyEndpoint, len(sources))
	statsChan := make(chan SourceStats, len(sources))

	for _, source := range sources {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()

			start := time.Now()
			endpoints, err := f.fetchSource(ctx, src)
			stat := SourceStats{URL: src, ProxiesFound: len(endpoints)}
			if err != nil {
				stat.Error = err.Error()
				log.Warnf("Proxy source %s failed: %v (took %v)", src, err, time.Since(start))
			} else {
				log.Infof("Proxy source %s returned %d proxies (took %v)", src, len(endpoints), time.Since(start))
			}
			resultChan <- endpoints
			statsChan <- stat
		}(source)
	}

	wg.Wait()
	close(resultChan)
	close(statsChan)

	all := make([]types.ProxyEndpoint, 0)
	for endpoints := range resultChan {
		all = append(all, endpoints...)
	}
	stats := make(map[string]SourceStats, len(sources))
	for stat := range statsChan {
		stats[stat.URL] = stat
	}
	return Deduplicate(all), stats
}

func (f *Fetcher) fetchSource(ctx context.Context, source string) ([]types.ProxyEndpoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	endpoints := make([]types.ProxyEndpoint, 0)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		match := proxyLineRegex.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}
		scheme := match[1]
		if scheme == "" {
			scheme = "http"
		}
		ep, err := Parse(fmt.Sprintf("%s://%s:%s", scheme, match[2], match[3]))
		if err != nil {
			continue
		}
		endpoints = append(endpoints, ep)
	}
	if err := scanner.Err(); err != nil {
		return endpoints, fmt.Errorf("scan body: %w", err)
	}
	return endpoints, nil
}

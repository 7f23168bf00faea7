// Package proxy maintains the rotating pool of outbound HTTP proxies used by
// the resolver and the chat pollers. Free proxy lists churn constantly, so
// the pool is refreshed in the background and always falls back to a static
// embedded list rather than going empty.
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const maxAge = time.Hour

var listEndpoints = []string{
	"https://api.proxyscrape.com/v2/?request=displayproxies&protocol=http&timeout=10000&country=all",
	"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
	"https://raw.githubusercontent.com/monosans/proxy-list/main/proxies/http.txt",
}

// staticFallback keeps Random from ever returning empty when every list
// endpoint is unreachable.
var staticFallback = []string{
	"51.158.68.133:8811",
	"163.172.31.44:80",
	"167.172.109.12:39533",
	"138.68.60.8:8080",
	"91.107.6.115:53281",
	"185.199.84.161:53281",
}

type Pool struct {
	mu          sync.Mutex
	proxies     []string
	lastUpdated time.Time
	static      bool

	client *http.Client
	log    *logrus.Logger
}

func NewPool(log *logrus.Logger) *Pool {
	if log == nil {
		log = logrus.New()
	}
	return &Pool{
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

// NewStaticPool builds a pool pinned to a fixed list that never refreshes
// over the network. Used when an operator runs their own proxies, and by
// tests.
func NewStaticPool(log *logrus.Logger, addrs ...string) *Pool {
	p := NewPool(log)
	p.proxies = append([]string(nil), addrs...)
	p.lastUpdated = time.Now()
	p.static = true
	return p
}

// Random returns one proxy address drawn uniformly from the pool, refreshing
// it first when empty or stale. It never returns "".
func (p *Pool) Random(ctx context.Context) string {
	p.mu.Lock()
	stale := !p.static && (len(p.proxies) == 0 || time.Since(p.lastUpdated) > maxAge)
	p.mu.Unlock()

	if stale {
		p.Refresh(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		p.proxies = append([]string(nil), staticFallback...)
		p.lastUpdated = time.Now()
	}
	return p.proxies[rand.Intn(len(p.proxies))]
}

// Refresh replaces the pool from the first list endpoint that yields
// proxies; when all fail the static fallback is installed.
func (p *Pool) Refresh(ctx context.Context) {
	p.mu.Lock()
	if p.static {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for _, endpoint := range listEndpoints {
		list, err := p.fetchList(ctx, endpoint)
		if err != nil {
			p.log.WithError(err).WithField("endpoint", endpoint).Debug("proxy list fetch failed")
			continue
		}
		if len(list) == 0 {
			continue
		}
		p.mu.Lock()
		p.proxies = list
		p.lastUpdated = time.Now()
		p.mu.Unlock()
		p.log.WithField("count", len(list)).Debug("proxy pool refreshed")
		return
	}

	p.mu.Lock()
	p.proxies = append([]string(nil), staticFallback...)
	p.lastUpdated = time.Now()
	p.mu.Unlock()
	p.log.Warn("all proxy list endpoints failed, using static fallback")
}

// RunRefresher refreshes the pool every interval until ctx is cancelled.
func (p *Pool) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Age reports how old the current pool is.
func (p *Pool) Age() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastUpdated.IsZero() {
		return maxAge + time.Second
	}
	return time.Since(p.lastUpdated)
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

func (p *Pool) fetchList(ctx context.Context, endpoint string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []string
	sc := bufio.NewScanner(io.LimitReader(resp.Body, 1<<20))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.Contains(line, ":") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

// Client builds an HTTP client routed through one random proxy. TLS
// verification is off: free proxies routinely terminate TLS themselves.
func (p *Pool) Client(ctx context.Context, timeout time.Duration) *http.Client {
	addr := p.Random(ctx)
	proxyURL, err := url.Parse("http://" + addr)
	if err != nil {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

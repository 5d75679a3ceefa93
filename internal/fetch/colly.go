package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyConfig controls collector behavior.
type CollyConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyGetter implements Getter using a Colly collector. The forum API is
// JSON, so the collector runs synchronously with no HTML callbacks; only
// the raw response body is captured.
type CollyGetter struct {
	cfg           CollyConfig
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// NewCollyGetter builds a CollyGetter.
func NewCollyGetter(cfg CollyConfig) *CollyGetter {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)
	return &CollyGetter{cfg: cfg, transport: transport, baseCollector: c}
}

// ctxTransport binds one request's context to the outgoing HTTP call, so
// cancelling the Get cancels the connection instead of leaving the visit
// running in the background.
type ctxTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// Get executes a single HTTP GET and returns the response body.
func (g *CollyGetter) Get(ctx context.Context, url string) ([]byte, error) {
	collector := g.baseCollector.Clone()
	collector.WithTransport(&ctxTransport{base: g.transport, ctx: ctx})
	if g.cfg.UserAgent != "" {
		collector.UserAgent = g.cfg.UserAgent
	}
	timeout := g.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, &Error{URL: url, Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			return nil, &Error{URL: url, Err: err}
		}
	}
	if fetchErr != nil {
		return nil, &Error{URL: url, Err: fetchErr}
	}
	if status < 200 || status >= 300 {
		return nil, &Error{URL: url, Err: fmt.Errorf("unexpected status %d", status)}
	}
	return body, nil
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
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

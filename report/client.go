package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

var ErrRejected = errors.New("feedback rejected")

// Metrics describes one submission round trip.
type Metrics struct {
	ConnReused bool
	DNS        time.Duration
	Connect    time.Duration
	TTFB       time.Duration
	Total      time.Duration
}

type Client struct {
	url    string
	client *http.Client
}

// NewClient targets baseURL (scheme and host, optionally with the full
// submission path).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	url := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(url, Path) {
		url += Path
	}
	return &Client{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    2,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

func (c *Client) URL() string { return c.url }

// Submit posts p once. Any transport error, non-2xx status or an explicit
// {"ok": false} is a failure; nothing is retried.
func (c *Client) Submit(ctx context.Context, p Payload) (Ack, Metrics, error) {
	var m Metrics
	body, err := json.Marshal(p)
	if err != nil {
		return Ack{}, m, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Ack{}, m, err
	}
	req.Header.Set("Content-Type", "application/json")

	var dnsStart, connectStart, wroteRequest time.Time
	trace := &httptrace.ClientTrace{
		DNSStart:             func(_ httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:              func(_ httptrace.DNSDoneInfo) { m.DNS = time.Since(dnsStart) },
		ConnectStart:         func(_, _ string) { connectStart = time.Now() },
		ConnectDone:          func(_, _ string, _ error) { m.Connect = time.Since(connectStart) },
		GotConn:              func(info httptrace.GotConnInfo) { m.ConnReused = info.Reused },
		WroteRequest:         func(_ httptrace.WroteRequestInfo) { wroteRequest = time.Now() },
		GotFirstResponseByte: func() { m.TTFB = time.Since(wroteRequest) },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	reqStart := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		m.Total = time.Since(reqStart)
		return Ack{}, m, fmt.Errorf("submit feedback: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	m.Total = time.Since(reqStart)
	if err != nil {
		return Ack{}, m, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Ack{}, m, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	ack := Ack{OK: true}
	var raw map[string]json.RawMessage
	if json.Unmarshal(respBody, &raw) == nil {
		if _, has := raw["ok"]; has {
			ack = Ack{}
			if err := json.Unmarshal(respBody, &ack); err != nil {
				return Ack{}, m, fmt.Errorf("%w: bad acknowledgement: %v", ErrRejected, err)
			}
			if !ack.OK {
				return ack, m, fmt.Errorf("%w: %s", ErrRejected, ack.Error)
			}
		}
	}
	return ack, m, nil
}

package remote

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Probe reports connectivity by hitting the remote health endpoint. Every
// call performs a fresh request.
type Probe struct {
	url        string
	httpClient *http.Client
}

func NewProbe(baseURL string, timeout time.Duration) *Probe {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &Probe{
		url:        strings.TrimRight(baseURL, "/") + "/health",
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *Probe) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Switch is a manually controlled connectivity signal.
type Switch struct {
	online atomic.Bool
}

func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)
	return s
}

func (s *Switch) Online(context.Context) bool { return s.online.Load() }

func (s *Switch) Set(online bool) { s.online.Store(online) }

package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/zoobzio/clockz"

	"paymesh/internal/domain"
)

const healthURLKey = "healthUrl"

type (
	// Monitor polls each gateway's config.healthUrl lazily and caches the
	// answer for one interval. Gateways without a health URL are healthy.
	Monitor struct {
		client   *http.Client
		clock    clockz.Clock
		interval time.Duration
		timeout  time.Duration
		cache    sync.Map
	}

	ServiceHealth struct {
		Failing         bool      `json:"failing"`
		MinResponseTime int       `json:"minResponseTime"`
		LastChecked     time.Time `json:"lastChecked"`
		Available       bool      `json:"available"`
	}
)

func NewMonitor(clock clockz.Clock, interval, timeout time.Duration) *Monitor {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Monitor{
		client:   &http.Client{},
		clock:    clock,
		interval: interval,
		timeout:  timeout,
	}
}

func (m *Monitor) IsHealthy(ctx context.Context, g domain.Gateway) bool {
	return m.Status(ctx, g).Available
}

func (m *Monitor) Status(ctx context.Context, g domain.Gateway) ServiceHealth {
	url := g.Config[healthURLKey]
	if url == "" {
		return ServiceHealth{Available: true, LastChecked: m.clock.Now()}
	}

	if cached, ok := m.cache.Load(g.ID); ok {
		h := cached.(ServiceHealth)
		if m.clock.Now().Sub(h.LastChecked) < m.interval {
			return h
		}
	}

	h := m.check(ctx, url)
	if !h.Available {
		slog.Warn("Gateway health check failed", "gatewayId", g.ID, "url", url)
	}
	m.cache.Store(g.ID, h)
	return h
}

// Snapshot returns the last known status per gateway id.
func (m *Monitor) Snapshot() map[string]ServiceHealth {
	out := make(map[string]ServiceHealth)
	m.cache.Range(func(k, v any) bool {
		out[k.(string)] = v.(ServiceHealth)
		return true
	})
	return out
}

func (m *Monitor) check(ctx context.Context, url string) ServiceHealth {
	ctx, cancel := m.clock.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return m.unavailable()
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return m.unavailable()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return m.unavailable()
	}

	var h ServiceHealth
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&h); err != nil {
		return m.unavailable()
	}

	h.LastChecked = m.clock.Now()
	h.Available = !h.Failing
	return h
}

func (m *Monitor) unavailable() ServiceHealth {
	return ServiceHealth{
		Failing:     true,
		LastChecked: m.clock.Now(),
		Available:   false,
	}
}

// Package browser drives the live page: it launches or connects to Chrome,
// tracks open tabs in a Registry and runs preview/revert scripts in them.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"livepatch/internal/logging"
)

// ErrNotConnected means Start has not connected a browser yet.
var ErrNotConnected = errors.New("browser not connected")

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string   `json:"debugger_url"`
	Launch              []string `json:"launch"`
	Headless            bool     `json:"headless"`
	ViewportWidth       int      `json:"viewport_width"`
	ViewportHeight      int      `json:"viewport_height"`
	NavigationTimeoutMs int      `json:"navigation_timeout_ms"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ViewportWidth:       1440,
		ViewportHeight:      900,
		NavigationTimeoutMs: 30000,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1440
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 900
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Manager owns the Chrome connection. Tabs it opens are added to its
// Registry and removed again when Chrome reports the target destroyed.
type Manager struct {
	cfg        Config
	registry   *Registry
	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	stopEvents context.CancelFunc
}

// NewManager creates a manager that records tabs in reg.
func NewManager(cfg Config, reg *Registry) *Manager {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Manager{cfg: cfg, registry: reg}
}

// Registry returns the tab registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("stale browser connection detected, reconnecting")
		m.closeLocked()
	}

	controlURL, err := m.controlURLFor()
	if err != nil {
		return err
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	m.browser = browser
	m.controlURL = controlURL
	m.watchTargets(ctx)
	logging.BrowserDebug("connected to %s", controlURL)
	return nil
}

func (m *Manager) controlURLFor() (string, error) {
	if m.cfg.DebuggerURL != "" {
		return m.cfg.DebuggerURL, nil
	}
	l := launcher.New().Headless(m.cfg.Headless)
	if len(m.cfg.Launch) > 0 {
		l = l.Bin(m.cfg.Launch[0])
		for _, raw := range m.cfg.Launch[1:] {
			name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}
	url, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("no debugger_url and failed to launch: %w", err)
	}
	return url, nil
}

// watchTargets drops tabs from the registry when their target goes away.
// Caller must hold the lock.
func (m *Manager) watchTargets(ctx context.Context) {
	evCtx, cancel := context.WithCancel(ctx)
	m.stopEvents = cancel
	b := m.browser.Context(evCtx)
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		logging.BrowserWarn("target discovery unavailable: %v", err)
		return
	}
	wait := b.EachEvent(func(e *proto.TargetTargetDestroyed) {
		if id, ok := m.registry.RemoveTarget(string(e.TargetID)); ok {
			logging.BrowserDebug("tab %s closed", id)
		}
	})
	go wait()
}

// ControlURL returns the WebSocket debugger URL.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// OpenTab opens url in a new tab and registers it.
func (m *Manager) OpenTab(ctx context.Context, url string) (*Tab, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, ErrNotConnected
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		logging.BrowserWarn("failed to set viewport: %v", err)
	}
	if url != "" {
		if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("navigate %s: %w", url, err)
		}
		_ = page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).WaitLoad()
	}

	tab := newTab(page)
	m.registry.Add(tab)
	return tab, nil
}

// Attach binds an existing target, such as a tab the user opened, and
// registers it.
func (m *Manager) Attach(ctx context.Context, targetID string) (*Tab, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, ErrNotConnected
	}
	page, err := b.Context(ctx).PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}
	tab := newTab(page)
	m.registry.Add(tab)
	return tab, nil
}

// Shutdown closes registered tabs and the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	if m.stopEvents != nil {
		m.stopEvents()
		m.stopEvents = nil
	}
	for _, id := range m.registry.IDs() {
		if tab, ok := m.registry.Tab(id); ok {
			_ = tab.Close()
		}
		m.registry.Remove(id)
	}
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	return err
}

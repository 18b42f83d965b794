// Package ollama controls a local Ollama server: detection, start/stop,
// model downloads with streamed progress, and model management.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	statusCacheTTL = 10 * time.Second

	startPollInterval = time.Second
	startTimeout      = 20 * time.Second

	politeStopTimeout = 5 * time.Second
	forceStopTimeout  = 3 * time.Second

	serverCommand = "ollama"
)

// Status describes the local server.
type Status struct {
	Installed       bool     `json:"installed"`
	Running         bool     `json:"running"`
	AvailableModels []string `json:"available_models"`
	ServerURL       string   `json:"server_url"`
}

// Manager owns all interaction with the local server. Subprocess operations
// are serialized; the status probe result is cached for statusCacheTTL.
type Manager struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	mu          sync.Mutex
	cached      *Status
	cachedAt    time.Time
	downloads   *downloadTable

	// Injection points for tests.
	now          func() time.Time
	sleep        func(time.Duration)
	lookPath     func(string) (string, error)
	startServer  func() error
	findProcs    func(name string) ([]serverProcess, error)
}

// serverProcess is the slice of process control the manager needs.
type serverProcess interface {
	Terminate() error
	Kill() error
}

// NewManager creates a manager for the server at baseURL.
func NewManager(baseURL string, log zerolog.Logger) *Manager {
	m := &Manager{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        log.With().Str("component", "ollama").Logger(),
		downloads:  newDownloadTable(),
		now:        time.Now,
		sleep:      time.Sleep,
		lookPath:   exec.LookPath,
	}
	m.startServer = m.spawnServer
	m.findProcs = findProcessesByName
	return m
}

// CheckStatus probes the server, serving from a 10-second cache.
func (m *Manager) CheckStatus(ctx context.Context) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkStatusLocked(ctx)
}

func (m *Manager) checkStatusLocked(ctx context.Context) (*Status, error) {
	if m.cached != nil && m.now().Sub(m.cachedAt) < statusCacheTTL {
		return m.cached, nil
	}

	status := &Status{ServerURL: m.baseURL, AvailableModels: []string{}}
	if _, err := m.lookPath(serverCommand); err == nil {
		status.Installed = true
	}

	if models, err := m.listModels(ctx); err == nil {
		status.Running = true
		status.AvailableModels = models
	}

	m.cached = status
	m.cachedAt = m.now()
	return status, nil
}

// invalidateLocked drops the status cache after state-changing operations.
func (m *Manager) invalidateLocked() {
	m.cached = nil
}

// listModels is the status probe: GET /api/tags.
func (m *Manager) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(out.Models))
	for _, model := range out.Models {
		models = append(models, model.Name)
	}
	return models, nil
}

// StartServer spawns the server if it is not already answering, then polls
// at 1 Hz for up to 20 seconds.
func (m *Manager) StartServer(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked()

	if _, err := m.listModels(ctx); err == nil {
		m.log.Info().Msg("Server already running")
		return nil
	}
	if _, err := m.lookPath(serverCommand); err != nil {
		return fmt.Errorf("%s is not installed", serverCommand)
	}

	if err := m.startServer(); err != nil {
		return fmt.Errorf("spawning server: %w", err)
	}

	deadline := m.now().Add(startTimeout)
	for m.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.listModels(ctx); err == nil {
			m.log.Info().Msg("Server started")
			return nil
		}
		m.sleep(startPollInterval)
	}
	return fmt.Errorf("server did not become ready within %s", startTimeout)
}

func (m *Manager) spawnServer() error {
	cmd := exec.Command(serverCommand, "serve")
	if err := cmd.Start(); err != nil {
		return err
	}
	// Detach: the server outlives us and is reaped by the OS.
	go func() { _ = cmd.Wait() }()
	return nil
}

// StopServer terminates the server: polite terminate with a 5-second poll,
// then kill with 3 more seconds to verify.
func (m *Manager) StopServer(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked()

	if _, err := m.listModels(ctx); err != nil {
		m.log.Info().Msg("Server already stopped")
		return nil
	}

	procs, err := m.findProcs(serverCommand)
	if err != nil {
		return fmt.Errorf("enumerating server processes: %w", err)
	}
	if len(procs) == 0 {
		return fmt.Errorf("server is running but no %s process found", serverCommand)
	}

	for _, p := range procs {
		_ = p.Terminate()
	}
	if m.waitStopped(ctx, politeStopTimeout) {
		m.log.Info().Msg("Server stopped")
		return nil
	}

	m.log.Warn().Msg("Server ignored terminate, killing")
	for _, p := range procs {
		_ = p.Kill()
	}
	if m.waitStopped(ctx, forceStopTimeout) {
		return nil
	}
	return fmt.Errorf("server still running after kill")
}

func (m *Manager) waitStopped(ctx context.Context, timeout time.Duration) bool {
	deadline := m.now().Add(timeout)
	for m.now().Before(deadline) {
		if _, err := m.listModels(ctx); err != nil {
			return true
		}
		m.sleep(startPollInterval)
	}
	_, err := m.listModels(ctx)
	return err != nil
}

// DeleteModel removes a model from the server.
func (m *Manager) DeleteModel(ctx context.Context, model string) error {
	m.mu.Lock()
	m.invalidateLocked()
	m.mu.Unlock()

	body := fmt.Sprintf(`{"name":%q}`, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.baseURL+"/api/delete",
		strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d deleting %s", resp.StatusCode, model)
	}
	m.log.Info().Str("model", model).Msg("Model deleted")
	return nil
}

func findProcessesByName(name string) ([]serverProcess, error) {
	all, err := process.Processes()
	if err != nil {
		return nil, err
	}
	var out []serverProcess
	for _, p := range all {
		pname, err := p.Name()
		if err != nil {
			continue
		}
		if pname == name {
			out = append(out, p)
		}
	}
	return out, nil
}

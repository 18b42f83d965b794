package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hedgeworks/hedged/internal/domain"
)

// dropDelay is how long a terminal progress entry stays visible before it
// is removed from the table.
const dropDelay = time.Second

// downloadTable tracks in-flight downloads keyed by model name.
type downloadTable struct {
	mu      sync.Mutex
	entries map[string]*downloadEntry
}

type downloadEntry struct {
	progress domain.DownloadProgress
	cancel   context.CancelFunc
}

func newDownloadTable() *downloadTable {
	return &downloadTable{entries: make(map[string]*downloadEntry)}
}

func (t *downloadTable) set(model string, p domain.DownloadProgress, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[model]
	if !ok {
		entry = &downloadEntry{}
		t.entries[model] = entry
	}
	// A cancelled entry stays cancelled; late frames from the upstream
	// stream must not resurrect it.
	if entry.progress.Status == domain.DownloadCancelled && p.Status != domain.DownloadCancelled {
		return
	}
	entry.progress = p
	if cancel != nil {
		entry.cancel = cancel
	}
}

func (t *downloadTable) get(model string) (domain.DownloadProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[model]
	if !ok {
		return domain.DownloadProgress{}, false
	}
	return entry.progress, true
}

func (t *downloadTable) active() []domain.DownloadProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.DownloadProgress, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, entry.progress)
	}
	return out
}

func (t *downloadTable) cancel(model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[model]
	if !ok {
		return false
	}
	entry.progress.Status = domain.DownloadCancelled
	entry.progress.Message = "Download cancelled"
	if entry.cancel != nil {
		entry.cancel()
	}
	return true
}

func (t *downloadTable) drop(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, model)
}

// pullFrame is one NDJSON line from the upstream pull stream.
type pullFrame struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DownloadProgressOf returns the tracked progress for one model.
func (m *Manager) DownloadProgressOf(model string) (domain.DownloadProgress, bool) {
	return m.downloads.get(model)
}

// ActiveDownloads lists all tracked downloads.
func (m *Manager) ActiveDownloads() []domain.DownloadProgress {
	return m.downloads.active()
}

// CancelDownload marks a download cancelled and signals its streaming
// goroutine. The upstream may keep pulling; observers see cancelled
// regardless.
func (m *Manager) CancelDownload(model string) error {
	if !m.downloads.cancel(model) {
		return fmt.Errorf("no download in progress for %s", model)
	}
	m.scheduleDrop(model)
	return nil
}

// DownloadModel pulls a model and streams progress updates to the returned
// channel, which closes after the terminal frame. The table entry is
// dropped one second after terminal state.
func (m *Manager) DownloadModel(ctx context.Context, model string) (<-chan domain.DownloadProgress, error) {
	ctx, cancel := context.WithCancel(ctx)

	starting := domain.DownloadProgress{Model: model, Status: domain.DownloadStarting}
	m.downloads.set(model, starting, cancel)

	resp, err := m.startPull(ctx, model)
	if err != nil {
		cancel()
		m.failDownload(model, err)
		return nil, err
	}

	updates := make(chan domain.DownloadProgress, 16)
	go func() {
		defer cancel()
		defer close(updates)
		defer resp.Body.Close()

		emit := func(p domain.DownloadProgress) {
			m.downloads.set(model, p, nil)
			// Cancellation wins over whatever the frame said.
			if current, ok := m.downloads.get(model); ok {
				p = current
			}
			select {
			case updates <- p:
			default:
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if current, ok := m.downloads.get(model); ok && current.Status == domain.DownloadCancelled {
				emit(current)
				return
			}

			var frame pullFrame
			if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
				continue
			}
			progress := frameToProgress(model, frame)
			emit(progress)

			if progress.Status.Terminal() {
				m.invalidateAfterDownload()
				m.scheduleDrop(model)
				return
			}
		}

		// Stream ended without a success frame.
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			m.failDownload(model, err)
			if p, ok := m.downloads.get(model); ok {
				emit(p)
			}
			return
		}
		if current, ok := m.downloads.get(model); ok && !current.Status.Terminal() {
			m.failDownload(model, fmt.Errorf("pull stream ended unexpectedly"))
			if p, ok := m.downloads.get(model); ok {
				emit(p)
			}
		} else if ok {
			m.scheduleDrop(model)
		}
	}()

	return updates, nil
}

// DownloadModelBlocking pulls a model and waits for the terminal state.
func (m *Manager) DownloadModelBlocking(ctx context.Context, model string) error {
	updates, err := m.DownloadModel(ctx, model)
	if err != nil {
		return err
	}
	var last domain.DownloadProgress
	for p := range updates {
		last = p
	}
	switch last.Status {
	case domain.DownloadCompleted:
		return nil
	case domain.DownloadCancelled:
		return fmt.Errorf("download of %s cancelled", model)
	default:
		return fmt.Errorf("download of %s failed: %s", model, last.Message)
	}
}

func (m *Manager) startPull(ctx context.Context, model string) (*http.Response, error) {
	payload, _ := json.Marshal(map[string]any{"name": model, "stream": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	// The pull stream runs far longer than the probe timeout.
	client := &http.Client{Transport: m.httpClient.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("starting pull: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("pull returned %d", resp.StatusCode)
	}
	return resp, nil
}

func (m *Manager) failDownload(model string, err error) {
	m.downloads.set(model, domain.DownloadProgress{
		Model:   model,
		Status:  domain.DownloadError,
		Message: err.Error(),
	}, nil)
	m.scheduleDrop(model)
}

// scheduleDrop removes the table entry one second after terminal state.
func (m *Manager) scheduleDrop(model string) {
	go func() {
		m.sleep(dropDelay)
		if p, ok := m.downloads.get(model); ok && p.Status.Terminal() {
			m.downloads.drop(model)
		}
	}()
}

func (m *Manager) invalidateAfterDownload() {
	m.mu.Lock()
	m.invalidateLocked()
	m.mu.Unlock()
}

// frameToProgress maps an upstream pull frame to the progress model.
// Completion is declared on a "success" status or completed == total.
func frameToProgress(model string, frame pullFrame) domain.DownloadProgress {
	p := domain.DownloadProgress{
		Model:  model,
		Status: domain.DownloadDownloading,
		Phase:  frame.Status,
	}
	if frame.Error != "" {
		p.Status = domain.DownloadError
		p.Message = frame.Error
		return p
	}
	if frame.Total > 0 {
		total := frame.Total
		completed := frame.Completed
		pct := float64(completed) / float64(total) * 100
		p.TotalBytes = &total
		p.BytesDownloaded = &completed
		p.Percentage = &pct
		if completed == total {
			p.Status = domain.DownloadCompleted
		}
	}
	if frame.Status == "success" {
		p.Status = domain.DownloadCompleted
		hundred := 100.0
		p.Percentage = &hundred
	}
	return p
}

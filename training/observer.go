package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// RunInfo identifies an experiment run on the tracker.
type RunInfo struct {
	Project  string                 `json:"project"`
	Name     string                 `json:"name"`
	Notes    string                 `json:"notes,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
	Config   map[string]interface{} `json:"config,omitempty"`
	ResumeID string                 `json:"resume_id,omitempty"`
}

// Observer receives training telemetry. The training loop depends only on
// this interface, so remote experiment tracking stays an injectable
// capability with a no-op default.
type Observer interface {
	// StartRun opens (or resumes) a run and returns its identifier.
	StartRun(info RunInfo) (string, error)
	// LogScalar records a named scalar at a step.
	LogScalar(name string, value float64, step int)
	// EpochEnd records the averaged metrics of a finished epoch.
	EpochEnd(epoch int, metrics map[string]float64)
	// Alert raises an informational notification.
	Alert(title, text string)
	// FinishRun closes the run.
	FinishRun()
}

// NopObserver discards all telemetry.
type NopObserver struct{}

func (NopObserver) StartRun(RunInfo) (string, error) { return "", nil }
func (NopObserver) LogScalar(string, float64, int)   {}
func (NopObserver) EpochEnd(int, map[string]float64) {}
func (NopObserver) Alert(string, string)             {}
func (NopObserver) FinishRun()                       {}

// MultiObserver fans telemetry out to several observers. StartRun returns
// the first non-empty run identifier.
type MultiObserver []Observer

func (m MultiObserver) StartRun(info RunInfo) (string, error) {
	runID := ""
	for _, o := range m {
		id, err := o.StartRun(info)
		if err != nil {
			return "", err
		}
		if runID == "" {
			runID = id
		}
	}
	return runID, nil
}

func (m MultiObserver) LogScalar(name string, value float64, step int) {
	for _, o := range m {
		o.LogScalar(name, value, step)
	}
}

func (m MultiObserver) EpochEnd(epoch int, metrics map[string]float64) {
	for _, o := range m {
		o.EpochEnd(epoch, metrics)
	}
}

func (m MultiObserver) Alert(title, text string) {
	for _, o := range m {
		o.Alert(title, text)
	}
}

func (m MultiObserver) FinishRun() {
	for _, o := range m {
		o.FinishRun()
	}
}

// HTTPObserver reports telemetry to a tracker service over JSON/HTTP.
// Telemetry failures after run start are logged and dropped; training never
// blocks on the tracker.
type HTTPObserver struct {
	baseURL    string
	httpClient *http.Client
	logger     Logger
	runID      string
}

// NewHTTPObserver creates a tracker client for baseURL.
func NewHTTPObserver(baseURL string, logger Logger) *HTTPObserver {
	if logger == nil {
		logger = NopLogger{}
	}
	return &HTTPObserver{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

func (h *HTTPObserver) post(path string, payload interface{}, response interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal tracker payload")
	}

	resp, err := h.httpClient.Post(h.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "post %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("tracker returned status %d for %s", resp.StatusCode, path)
	}
	if response != nil {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return errors.Wrapf(err, "decode tracker response for %s", path)
		}
	}
	return nil
}

// StartRun opens or resumes a run on the tracker.
func (h *HTTPObserver) StartRun(info RunInfo) (string, error) {
	var resp startRunResponse
	if err := h.post("/api/runs", info, &resp); err != nil {
		return "", errors.Wrap(err, "start tracker run")
	}
	if resp.RunID == "" {
		resp.RunID = info.ResumeID
	}
	h.runID = resp.RunID
	return h.runID, nil
}

func (h *HTTPObserver) LogScalar(name string, value float64, step int) {
	payload := map[string]interface{}{"name": name, "value": value, "step": step}
	if err := h.post(fmt.Sprintf("/api/runs/%s/scalars", h.runID), payload, nil); err != nil {
		h.logger.Logf("tracker scalar dropped: %v", err)
	}
}

func (h *HTTPObserver) EpochEnd(epoch int, metrics map[string]float64) {
	payload := map[string]interface{}{"epoch": epoch, "metrics": metrics}
	if err := h.post(fmt.Sprintf("/api/runs/%s/epochs", h.runID), payload, nil); err != nil {
		h.logger.Logf("tracker epoch summary dropped: %v", err)
	}
}

func (h *HTTPObserver) Alert(title, text string) {
	payload := map[string]interface{}{"title": title, "text": text, "level": "info"}
	if err := h.post(fmt.Sprintf("/api/runs/%s/alerts", h.runID), payload, nil); err != nil {
		h.logger.Logf("tracker alert dropped: %v", err)
	}
}

func (h *HTTPObserver) FinishRun() {
	if h.runID == "" {
		return
	}
	if err := h.post(fmt.Sprintf("/api/runs/%s/finish", h.runID), map[string]interface{}{}, nil); err != nil {
		h.logger.Logf("tracker finish dropped: %v", err)
	}
}

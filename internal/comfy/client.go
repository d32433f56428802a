// Package comfy talks to a ComfyUI-compatible compute service over HTTP.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// Sentinel errors for compute client failures.
var (
	ErrUnreachable = errors.New("compute service unreachable")
	ErrRequest     = errors.New("compute service request error")
	ErrTimeout     = errors.New("compute service request timeout")
	ErrRejected    = errors.New("compute service rejected graph")
)

// Remote status strings reported in a history entry.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Client is the interface for the compute service.
type Client interface {
	// Submit queues g and returns the remote run (prompt) id.
	Submit(ctx context.Context, g models.ExecutionGraph) (string, error)
	// PollHistory returns the history entry for promptID, or nil if the
	// service has not recorded it yet.
	PollHistory(ctx context.Context, promptID string) (*HistoryEntry, error)
	// FullHistory returns up to maxItems entries, most recent first.
	FullHistory(ctx context.Context, maxItems int) ([]HistoryEntry, error)
	// Progress returns a coarse 0..1 execution fraction from the queue.
	Progress(ctx context.Context, promptID string) (float64, error)
	Upload(ctx context.Context, localPath string) (string, error)
	Download(ctx context.Context, ref FileRef, localPath string) error
	Ready(ctx context.Context) error
}

// FileRef addresses a file held by the compute service.
type FileRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// HistoryEntry is one recorded run on the compute service.
type HistoryEntry struct {
	PromptID string
	Number   float64
	// Graph is the execution graph the run was submitted with, when the
	// service echoes it back.
	Graph   models.ExecutionGraph
	Status  RunStatus
	Outputs map[string]map[string]any
}

// RunStatus is the remote status block of a history entry.
type RunStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
	Message   string `json:"status_message"`
}

// HTTPClient implements Client using the ComfyUI HTTP API.
type HTTPClient struct {
	baseURL  string
	clientID string
	client   *http.Client
}

// NewHTTPClient creates a new compute service HTTP client.
func NewHTTPClient(baseURL, clientID string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:  baseURL,
		clientID: clientID,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Submit(ctx context.Context, g models.ExecutionGraph) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":    g,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("encoding prompt: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	var submitResp submitResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&submitResp)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && submitResp.Error != nil {
			return "", fmt.Errorf("%w: %s", ErrRejected, submitResp.Error.describe())
		}
		return "", fmt.Errorf("%w: status %d", ErrRequest, resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decoding submit response: %w", decodeErr)
	}
	if submitResp.PromptID == "" {
		return "", fmt.Errorf("%w: no prompt id returned", ErrRejected)
	}
	return submitResp.PromptID, nil
}

func (c *HTTPClient) PollHistory(ctx context.Context, promptID string) (*HistoryEntry, error) {
	var raw map[string]rawHistoryEntry
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), &raw); err != nil {
		return nil, err
	}
	entry, ok := raw[promptID]
	if !ok {
		return nil, nil
	}
	he := entry.decode(promptID)
	return &he, nil
}

func (c *HTTPClient) FullHistory(ctx context.Context, maxItems int) ([]HistoryEntry, error) {
	path := "/history"
	if maxItems > 0 {
		path += "?max_items=" + strconv.Itoa(maxItems)
	}
	var raw map[string]rawHistoryEntry
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(raw))
	for id, e := range raw {
		entries = append(entries, e.decode(id))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Number != entries[j].Number {
			return entries[i].Number > entries[j].Number
		}
		return entries[i].PromptID > entries[j].PromptID
	})
	if maxItems > 0 && len(entries) > maxItems {
		entries = entries[:maxItems]
	}
	return entries, nil
}

func (c *HTTPClient) Progress(ctx context.Context, promptID string) (float64, error) {
	var q queueResponse
	if err := c.getJSON(ctx, "/queue", &q); err != nil {
		return 0, err
	}
	for _, item := range q.Running {
		if queueItemID(item) == promptID {
			return 0.5, nil
		}
	}
	return 0, nil
}

func (c *HTTPClient) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: upload status %d", ErrRequest, resp.StatusCode)
	}

	var up uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	name := up.Name
	if name == "" {
		name = up.Filename
	}
	if name == "" {
		return "", fmt.Errorf("%w: upload returned no name", ErrRequest)
	}
	if up.Subfolder != "" {
		name = up.Subfolder + "/" + name
	}
	return name, nil
}

func (c *HTTPClient) Download(ctx context.Context, ref FileRef, localPath string) error {
	fileType := ref.Type
	if fileType == "" {
		fileType = "output"
	}
	params := url.Values{
		"filename":  {ref.Filename},
		"subfolder": {ref.Subfolder},
		"type":      {fileType},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download status %d", ErrRequest, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("creating download dir: %w", err)
	}
	tmp := localPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return classifyError(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing download file: %w", err)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing download: %w", err)
	}
	return nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: compute service not ready (status %d)", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, v any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRequest, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// IsTransient reports whether err is worth retrying on the next poll tick.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

package synctool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/curriculum/internal/curriculum"
)

const (
	syncPath         = "/curriculum/manifest/sync"
	exportPath       = "/curriculum/manifest/export"
	maxResponseBytes = 32 << 20
)

var (
	errMissingServerURL = errors.New("server url is required")
	errMissingToken     = errors.New("session token is required")
)

// RemoteError is a non-2xx response from the curriculum API.
type RemoteError struct {
	StatusCode int
	Kind       string
	Code       string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("curriculum api responded %d %s", e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("curriculum api responded %d %s (%s)", e.StatusCode, e.Kind, e.Code)
}

// ClientConfig configures the API client.
type ClientConfig struct {
	ServerURL  string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the manifest endpoints of the curriculum API with a bearer session token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if baseURL == "" {
		return nil, errMissingServerURL
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errMissingToken
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: baseURL, token: token, httpClient: httpClient}, nil
}

type syncRequest struct {
	Manifest curriculum.Manifest    `json:"manifest"`
	Options  curriculum.SyncOptions `json:"options"`
}

// Push submits manifest for reconciliation and returns the server's summary.
func (c *Client) Push(ctx context.Context, manifest curriculum.Manifest, options curriculum.SyncOptions) (curriculum.SyncSummary, error) {
	body, err := json.Marshal(syncRequest{Manifest: manifest, Options: options})
	if err != nil {
		return curriculum.SyncSummary{}, err
	}
	var summary curriculum.SyncSummary
	if err := c.do(ctx, http.MethodPost, syncPath, body, &summary); err != nil {
		return curriculum.SyncSummary{}, err
	}
	return summary, nil
}

// Export downloads the manifest reconstructed from the server's current tree.
func (c *Client) Export(ctx context.Context) (curriculum.Manifest, error) {
	var manifest curriculum.Manifest
	if err := c.do(ctx, http.MethodGet, exportPath, nil, &manifest); err != nil {
		return curriculum.Manifest{}, err
	}
	manifest.Normalize()
	return manifest, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		remote := &RemoteError{StatusCode: response.StatusCode}
		var envelope struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(payload, &envelope) == nil {
			remote.Kind = envelope.Error
			remote.Code = envelope.Code
		}
		return remote
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

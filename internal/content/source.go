package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Source supplies the document to read.
type Source interface {
	Fetch(ctx context.Context) (Document, error)
}

type httpSource struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSource fetches the document as JSON from endpoint, authenticating
// with the X-API-Key header when apiKey is set.
func NewHTTPSource(endpoint, apiKey string, timeout time.Duration) Source {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpSource{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

type errorPayload struct {
	Error string `json:"error"`
}

func (s *httpSource) Fetch(ctx context.Context) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var payload errorPayload
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			return Document{}, fmt.Errorf("content source returned %s: %s", resp.Status, payload.Error)
		}
		return Document{}, fmt.Errorf("content source returned %s", resp.Status)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	doc.Normalize()
	return doc, nil
}

type fileSource struct {
	path string
}

// NewFileSource reads the same JSON document from disk.
func NewFileSource(path string) Source {
	return &fileSource{path: path}
}

func (s *fileSource) Fetch(_ context.Context) (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	doc.Normalize()
	return doc, nil
}

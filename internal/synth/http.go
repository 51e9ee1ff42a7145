package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type httpSynth struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSynth posts the chapter request as JSON to endpoint.
func NewHTTPSynth(endpoint, apiKey string, timeout time.Duration) Synthesizer {
	return &httpSynth{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

func (h *httpSynth) Synthesize(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("X-API-Key", h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("synthesis service returned %s: %s", resp.Status, strings.TrimSpace(string(excerpt)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode synthesis response: %w", err)
	}
	if out.Error != "" {
		return Response{}, fmt.Errorf("synthesis service: %s", out.Error)
	}
	return out, nil
}

// Package e2e drives a running accounts service through its HTTP API with
// godog feature files.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext carries the HTTP client and per-scenario state between steps.
type TestContext struct {
	BaseURL string
	Client  *http.Client

	suffix       string
	lastStatus   int
	lastBody     []byte
	accessToken  string
	refreshToken string
	saved        map[string]string
}

func NewTestContext(baseURL string) *TestContext {
	return &TestContext{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Reset clears scenario state. suffix makes emails unique per scenario.
func (tc *TestContext) Reset(suffix string) {
	tc.suffix = suffix
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.accessToken = ""
	tc.refreshToken = ""
	tc.saved = map[string]string{}
}

// Unique replaces "{unique}" in s with the scenario suffix.
func (tc *TestContext) Unique(s string) string {
	return strings.ReplaceAll(s, "{unique}", tc.suffix)
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, tc.authHeader())
}

func (tc *TestContext) PATCH(path string, body any) error {
	return tc.do(http.MethodPatch, path, body, tc.authHeader())
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	if headers == nil {
		headers = tc.authHeader()
	}
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) DELETE(path string) error {
	return tc.do(http.MethodDelete, path, nil, tc.authHeader())
}

func (tc *TestContext) authHeader() map[string]string {
	if tc.accessToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + tc.accessToken}
}

func (tc *TestContext) do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) LastStatus() int { return tc.lastStatus }

func (tc *TestContext) LastBody() string { return string(tc.lastBody) }

// GetResponseField reads a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %s", tc.lastBody)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", field, tc.lastBody)
	}
	return v, nil
}

func (tc *TestContext) GetAccessToken() string       { return tc.accessToken }
func (tc *TestContext) SetAccessToken(token string)  { tc.accessToken = token }
func (tc *TestContext) GetRefreshToken() string      { return tc.refreshToken }
func (tc *TestContext) SetRefreshToken(token string) { tc.refreshToken = token }

func (tc *TestContext) Save(key, value string) { tc.saved[key] = value }

func (tc *TestContext) Saved(key string) string { return tc.saved[key] }

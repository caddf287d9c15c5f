package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"gopkg.in/yaml.v3"
)

// profile holds the connection settings loaded from the updatectl config
// file. Flags override whatever the file provides.
type profile struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token"`
}

func loadProfile(path string) (profile, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return profile{}, nil
		}
		path = filepath.Join(home, ".config", "updatectl.yaml")
		if _, err := os.Stat(path); err != nil {
			return profile{}, nil
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return p, nil
}

// client talks to the update server admin API. Requests retry on transient
// failures and on activation conflicts, which the server reports as 409
// with a retryable error code.
type client struct {
	base  string
	token string
	http  *retryablehttp.Client
}

func newClient(server, token string) (*client, error) {
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if server == "" {
		return nil, fmt.Errorf("server URL is required (flag --server or profile)")
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.Logger = nil
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			// Concurrent activations race on the server; retrying
			// usually succeeds once the winner commits. Other 409s
			// (duplicate upload, delete of the active version) are
			// permanent and retrying them is pointless.
			if resp.Request != nil && strings.HasSuffix(resp.Request.URL.Path, "/activate") {
				return true, nil
			}
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return &client{base: server, token: token, http: rc}, nil
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.http.Do(req)
}

// getJSON issues a GET and decodes the response body into out.
func (c *client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// postJSON issues a POST with an optional JSON body and decodes the
// response into out when out is non-nil.
func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, in, out)
}

func (c *client) patchJSON(ctx context.Context, path string, in, out any) error {
	return c.sendJSON(ctx, http.MethodPatch, path, in, out)
}

func (c *client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// upload posts the release file as a multipart form. The form is buffered in
// memory so retryablehttp can rewind the body between attempts.
func (c *client) upload(ctx context.Context, filePath, uploadType, version, notes string) (map[string]any, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	part, err := mw.CreateFormFile("game_file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		f.Close()
		return nil, err
	}
	f.Close()

	fields := map[string]string{
		"upload_type":   uploadType,
		"version":       version,
		"release_notes": notes,
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/upload", bytes.NewReader(buf.Bytes()), mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// stats unwraps the server's {"kinds": [...]} stats envelope.
func (c *client) stats(ctx context.Context) ([]map[string]any, error) {
	var payload struct {
		Kinds []map[string]any `json:"kinds"`
	}
	if err := c.getJSON(ctx, "/api/stats", &payload); err != nil {
		return nil, err
	}
	return payload.Kinds, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
}

package release

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t)

	api, err := NewAPI(svc, &Store{ORM: svc.registry.db, Blobs: svc.blobs}, svc.logger, Config{
		BaseURL:    "http://updates.test",
		AdminToken: testAdminToken,
	})
	require.NoError(t, err)

	routes, err := api.Routes()
	require.NoError(t, err)

	ts := httptest.NewServer(routes)
	t.Cleanup(ts.Close)
	return ts, svc
}

func doRequest(t *testing.T, method, url string, body io.Reader, contentType string, admin bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func uploadForm(t *testing.T, uploadType, version, notes, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile("game_file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("upload_type", uploadType))
	require.NoError(t, mw.WriteField("version", version))
	require.NoError(t, mw.WriteField("release_notes", notes))
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	ts, _ := newTestServer(t)

	body, contentType := uploadForm(t, "game", "1.0", "", "build.zip", "bytes")
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/upload", body, contentType, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/version/1.0/activate", nil, "", false)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong token is also rejected.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/version/deactivate", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	wrongResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	wrongResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrongResp.StatusCode)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	api, err := NewAPI(svc, &Store{ORM: svc.registry.db, Blobs: svc.blobs}, svc.logger, Config{BaseURL: "http://updates.test"})
	require.NoError(t, err)
	routes, err := api.Routes()
	require.NoError(t, err)
	ts := httptest.NewServer(routes)
	defer ts.Close()

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/version/deactivate", nil, "", false)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUploadActivateDownloadFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	// Upload: the release is created but not live.
	body, contentType := uploadForm(t, "game", "1.0.0", "first release", "MyGame.zip", "zip content here")
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/upload", body, contentType, true)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var created Release
	decodeBody(t, resp, &created)
	assert.False(t, created.IsActive)
	assert.Equal(t, "game-v1.0.0.zip", created.Filename)

	// Clients see nothing until activation.
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/version", nil, "", false)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Activate.
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/version/1.0.0/activate", nil, "", true)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The client payload carries the download link in its legacy casing.
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/version", nil, "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var info map[string]any
	decodeBody(t, resp, &info)
	assert.Equal(t, "1.0.0", info["Version"])
	assert.Equal(t, "http://updates.test/downloads/game-v1.0.0.zip", info["DownloadUrl"])
	assert.Equal(t, "first release", info["ReleaseNotes"])
	assert.Equal(t, float64(len("zip content here")), info["FileSize"])

	// Download streams the artifact and counts it.
	resp = doRequest(t, http.MethodGet, ts.URL+"/downloads/game-v1.0.0.zip", nil, "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	got, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "zip content here", string(got))

	var history []Release
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/version/history", nil, "", false)
	decodeBody(t, resp, &history)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1), history[0].DownloadCount)
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func TestUploadRejectsDeclaredOversizeImmediately(t *testing.T) {
	ts, _ := newTestServer(t)

	// 2 MiB body against the 1 MiB test cap: the Content-Length check must
	// refuse it before any of the body is spooled.
	body, contentType := uploadForm(t, "game", "1.0", "", "big.zip", strings.Repeat("a", 2<<20))
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/upload", body, contentType, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestUploadBoundsChunkedBodyConsumption(t *testing.T) {
	ts, _ := newTestServer(t)

	// 8 MiB chunked upload with no declared length: the server must cut the
	// stream off near the cap instead of spooling the whole body.
	total := int64(8 << 20)
	body, contentType := uploadForm(t, "game", "1.0", "", "big.zip", strings.Repeat("a", int(total)))
	counter := &countingReader{r: body}

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/upload", io.NopCloser(counter))
	require.NoError(t, err)
	req.ContentLength = -1
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)

	// The server may close the connection mid-write; a transport error is
	// acceptable as long as consumption stayed bounded.
	resp, err := http.DefaultClient.Do(req)
	if err == nil {
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Less(t, counter.n.Load(), int64(4<<20), "server consumed %d of %d bytes", counter.n.Load(), total)
}

func TestUploadRejectsNonZip(t *testing.T) {
	ts, _ := newTestServer(t)

	body, contentType := uploadForm(t, "game", "1.0", "", "build.tar.gz", "bytes")
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/upload", body, contentType, true)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadDuplicateReturnsConflict(t *testing.T) {
	ts, _ := newTestServer(t)

	body, contentType := uploadForm(t, "game", "1.0", "", "a.zip", "one")
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/upload", body, contentType, true)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body, contentType = uploadForm(t, "game", "1.0", "", "b.zip", "two")
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/upload", body, contentType, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var payload map[string]any
	decodeBody(t, resp, &payload)
	assert.Contains(t, payload["error"], "already exists")
}

func TestDeleteActiveVersionConflict(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx := context.Background()

	mustUpload(t, svc, KindGame, "1.0", "build")
	require.NoError(t, svc.Activate(ctx, KindGame, "1.0"))

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/version/1.0", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var payload map[string]any
	decodeBody(t, resp, &payload)
	assert.Contains(t, payload["error"], "cannot delete the active version")
}

func TestLauncherEndpointsScopedToKind(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx := context.Background()

	mustUpload(t, svc, KindGame, "1.0", "game build")
	mustUpload(t, svc, KindLauncher, "0.5", "launcher build")
	require.NoError(t, svc.Activate(ctx, KindGame, "1.0"))

	// Only the game kind has an active version.
	resp := doRequest(t, http.MethodGet, ts.URL+"/api/launcher/version", nil, "", false)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, svc.Activate(ctx, KindLauncher, "0.5"))
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/launcher/version", nil, "", false)
	var info map[string]any
	decodeBody(t, resp, &info)
	assert.Equal(t, "0.5", info["Version"])

	var history []Release
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/launcher/history", nil, "", false)
	decodeBody(t, resp, &history)
	require.Len(t, history, 1)
	assert.Equal(t, "0.5", history[0].Version)
}

func TestNotesEndpoint(t *testing.T) {
	ts, svc := newTestServer(t)

	mustUpload(t, svc, KindGame, "1.0", "build")

	payload := strings.NewReader(`{"release_notes":"patched the launcher handshake"}`)
	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/api/version/1.0/notes", payload)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	rel, err := svc.Get(context.Background(), KindGame, "1.0")
	require.NoError(t, err)
	assert.Equal(t, "patched the launcher handshake", rel.ReleaseNotes)
}

func TestDownloadUnknownFile(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/downloads/game-v9.9.zip", nil, "", false)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx := context.Background()

	mustUpload(t, svc, KindGame, "1.0", "one")
	mustUpload(t, svc, KindGame, "1.1", "two")
	mustUpload(t, svc, KindLauncher, "0.5", "launcher")
	require.NoError(t, svc.Activate(ctx, KindGame, "1.1"))
	svc.RecordDownload(ctx, KindGame, "1.1")
	svc.RecordDownload(ctx, KindGame, "1.1")

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Kinds []KindStats `json:"kinds"`
	}
	decodeBody(t, resp, &payload)
	require.Len(t, payload.Kinds, 2)

	game := payload.Kinds[0]
	assert.Equal(t, "game", game.Kind)
	assert.Equal(t, int64(2), game.Releases)
	assert.Equal(t, int64(2), game.Downloads)
	require.NotNil(t, game.ActiveVersion)
	assert.Equal(t, "1.1", *game.ActiveVersion)

	launcher := payload.Kinds[1]
	assert.Equal(t, "launcher", launcher.Kind)
	assert.Nil(t, launcher.ActiveVersion)
}

func TestKindStatsEndpoint(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx := context.Background()

	mustUpload(t, svc, KindGame, "1.0", "one")
	require.NoError(t, svc.Activate(ctx, KindGame, "1.0"))
	svc.RecordDownload(ctx, KindGame, "1.0")

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/stats/game", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var game KindStats
	decodeBody(t, resp, &game)
	assert.Equal(t, "game", game.Kind)
	assert.Equal(t, int64(1), game.Releases)
	assert.Equal(t, int64(1), game.Downloads)
	require.NotNil(t, game.ActiveVersion)
	assert.Equal(t, "1.0", *game.ActiveVersion)

	// A kind with no uploads reports zeroes, not 404.
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/stats/launcher", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var launcher KindStats
	decodeBody(t, resp, &launcher)
	assert.Equal(t, "launcher", launcher.Kind)
	assert.Equal(t, int64(0), launcher.Releases)
	assert.Nil(t, launcher.ActiveVersion)

	// Unknown kinds are rejected at parse time.
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/stats/firmware", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/health", nil, "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var payload map[string]any
	decodeBody(t, resp, &payload)
	assert.Equal(t, "Healthy", payload["status"])
}

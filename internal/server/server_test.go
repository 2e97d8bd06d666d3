package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docspark/api/internal/abuse"
	"github.com/docspark/api/internal/config"
	"github.com/docspark/api/internal/engine"
	"github.com/docspark/api/internal/service"
	"github.com/docspark/api/internal/storage"
	"github.com/docspark/api/internal/store/memory"
	"github.com/docspark/api/pkg/response"
)

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	files *storage.Local
	root  string
}

type option func(*config.Config, *[]abuse.VerifierOption)

func withConvertMax(n int) option {
	return func(cfg *config.Config, _ *[]abuse.VerifierOption) { cfg.RateLimit.ConvertMax = n }
}

func withMaxUpload(n int64) option {
	return func(cfg *config.Config, _ *[]abuse.VerifierOption) { cfg.Jobs.MaxUploadBytes = n }
}

func withChallenge(endpoint string) option {
	return func(cfg *config.Config, opts *[]abuse.VerifierOption) {
		cfg.Challenge = config.ChallengeConfig{Provider: "turnstile", SecretKey: "s3cret"}
		*opts = append(*opts, abuse.WithEndpoint(endpoint))
	}
}

// setupApp wires the app the way main does, with a memory store, a memory
// abuse backend and engine binaries that are never installed.
func setupApp(t *testing.T, opts ...option) *testApp {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{
		Server:  config.ServerConfig{CORSOrigins: []string{"*"}},
		Storage: config.StorageConfig{DataDir: root, ArtifactStore: "local"},
		Jobs: config.JobsConfig{
			TTL:            30 * time.Minute,
			MaxUploadBytes: 250 * 1024 * 1024,
			ReaperSchedule: "@every 1m",
		},
		RateLimit: config.RateLimitConfig{
			ConvertWindow: 10 * time.Minute,
			ConvertMax:    10000,
			ReadWindow:    time.Minute,
			ReadMax:       10000,
		},
		Abuse: config.AbuseConfig{
			Backend:               "memory",
			MaxActiveConversions:  2,
			DuplicateUploadWindow: 2 * time.Minute,
		},
		Challenge: config.ChallengeConfig{Provider: "none"},
		Engines: config.EnginesConfig{
			RendererBin:     "docspark-test-missing-shell",
			BrowserBin:      "docspark-test-missing-browser",
			PandocBin:       "docspark-test-missing-pandoc",
			SofficeBin:      "docspark-test-missing-soffice",
			RendererTimeout: time.Second,
			PandocTimeout:   time.Second,
			OfficeTimeout:   time.Second,
		},
	}
	var verifierOpts []abuse.VerifierOption
	for _, opt := range opts {
		opt(cfg, &verifierOpts)
	}

	log := zap.NewNop()
	files, err := storage.NewLocal(cfg.Storage.UploadsDir(), cfg.Storage.ConvertedDir())
	require.NoError(t, err)

	validate := validator.New()
	svc := service.NewConversionService(service.Options{
		Store:     memory.New(),
		Files:     files,
		Converter: engine.DefaultChain(cfg.Engines, log),
		Validator: validate,
		TTL:       cfg.Jobs.TTL,
		Logger:    log,
	})
	guard := abuse.NewGuard(abuse.NewMemoryBackend(), abuse.GuardConfig{
		MaxActiveConversions:  cfg.Abuse.MaxActiveConversions,
		DuplicateUploadWindow: cfg.Abuse.DuplicateUploadWindow,
	}, log)

	app := New(Deps{
		Config:    cfg,
		Service:   svc,
		Files:     files,
		Guard:     guard,
		Challenge: abuse.NewChallengeVerifier(cfg.Challenge.Provider, cfg.Challenge.SecretKey, verifierOpts...),
		Validator: validate,
		Logger:    log,
	})
	return &testApp{app: app, files: files, root: root}
}

// convertRequest builds a multipart/form-data upload.
func convertRequest(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/convert", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func (ta *testApp) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (ta *testApp) get(t *testing.T, path string) *http.Response {
	return ta.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

// convert uploads a file and returns the created job id.
func (ta *testApp) convert(t *testing.T, filename, content string, fields map[string]string) (string, string) {
	t.Helper()
	resp := ta.do(t, convertRequest(t, filename, content, fields))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := parseJSON(t, resp)
	return body["jobId"].(string), body["status"].(string)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func (ta *testApp) stagedFiles(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(ta.root, "uploads", ".staging"))
	require.NoError(t, err)
	return entries
}

func TestHealth(t *testing.T) {
	ta := setupApp(t)
	resp := ta.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseJSON(t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "docspark-backend", body["service"])
}

func TestConvertTextToHTMLLifecycle(t *testing.T) {
	ta := setupApp(t)
	id, status := ta.convert(t, "notes.txt", "a < b\nsecond line", map[string]string{"targetFormat": "html"})
	assert.Equal(t, "done", status)

	body := parseJSON(t, ta.get(t, "/api/jobs/"+id))
	assert.Equal(t, id, body["jobId"])
	assert.Equal(t, "done", body["status"])
	assert.Equal(t, float64(100), body["progress"])
	assert.NotContains(t, body, "failureReason")

	resp := ta.get(t, "/api/jobs/"+id+"/download")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="notes.html"`, resp.Header.Get("Content-Disposition"))
	html := readBody(t, resp)
	assert.Contains(t, html, "a &lt; b")
	assert.Contains(t, html, "<!doctype html>")

	resp = ta.get(t, "/api/jobs/"+id+"/insights")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ta.do(t, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, parseJSON(t, resp)["success"])

	assert.Equal(t, http.StatusNotFound, ta.get(t, "/api/jobs/"+id).StatusCode)
	assert.Equal(t, http.StatusNotFound, ta.do(t, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil)).StatusCode)
	assert.NoDirExists(t, filepath.Join(ta.root, "uploads", id))
	assert.NoDirExists(t, filepath.Join(ta.root, "converted", id))
}

func TestConvertUnsupportedPairFails(t *testing.T) {
	ta := setupApp(t)
	id, status := ta.convert(t, "scan.pdf", "%PDF-1.4", map[string]string{"targetFormat": "csv"})
	assert.Equal(t, "failed", status)

	body := parseJSON(t, ta.get(t, "/api/jobs/"+id))
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, service.PublicFailureReason("engine_exhausted: x"), body["failureReason"])
	assert.NotContains(t, body["failureReason"], "engine_exhausted")

	resp := ta.get(t, "/api/jobs/"+id+"/download")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	conflict := parseJSON(t, resp)
	assert.Equal(t, "Job is not yet complete", conflict["error"])
	assert.Equal(t, "failed", conflict["status"])
}

func TestConvertWithInsights(t *testing.T) {
	ta := setupApp(t)
	id, status := ta.convert(t, "resume.txt", "Jane Doe\nEngineer", map[string]string{
		"targetFormat":    "md",
		"analysisMode":    "convert_plus_insights",
		"analysisConsent": "true",
	})
	require.Equal(t, "done", status)

	resp := ta.get(t, "/api/jobs/"+id+"/insights")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseJSON(t, resp)
	assert.Contains(t, body["summary"], "resume.txt")
	assert.NotEmpty(t, body["keyFields"])
	assert.Contains(t, body, "qualityScore")
}

func TestConvertValidation(t *testing.T) {
	ta := setupApp(t)

	resp := ta.do(t, convertRequest(t, "", "", map[string]string{"targetFormat": "pdf"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "File is required", parseJSON(t, resp)["error"])

	resp = ta.do(t, convertRequest(t, "a.txt", "x", map[string]string{"targetFormat": "odt"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := parseJSON(t, resp)
	assert.Equal(t, response.CodeValidationError, body["code"])
	assert.Equal(t, "Unsupported target format: odt. Allowed: pdf, docx, txt, html, md, rtf, csv", body["error"])

	resp = ta.do(t, convertRequest(t, "a.txt", "x", map[string]string{
		"targetFormat": "pdf",
		"analysisMode": "convert_plus_insights",
	}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, ta.stagedFiles(t))
}

func TestConvertTooLarge(t *testing.T) {
	ta := setupApp(t, withMaxUpload(1024))
	resp := ta.do(t, convertRequest(t, "big.txt", strings.Repeat("x", 2048), map[string]string{"targetFormat": "html"}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, response.CodePayloadTooLarge, parseJSON(t, resp)["code"])
	assert.Empty(t, ta.stagedFiles(t))
}

func TestConvertRateLimited(t *testing.T) {
	ta := setupApp(t, withConvertMax(1))
	ta.convert(t, "a.txt", "one", map[string]string{"targetFormat": "html"})

	resp := ta.do(t, convertRequest(t, "b.txt", "two", map[string]string{"targetFormat": "html"}))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "600", resp.Header.Get("Retry-After"))
	assert.Equal(t, response.CodeRateLimited, parseJSON(t, resp)["code"])
}

func TestConvertDuplicateUpload(t *testing.T) {
	ta := setupApp(t)
	ta.convert(t, "a.txt", "same bytes", map[string]string{"targetFormat": "html"})

	resp := ta.do(t, convertRequest(t, "renamed.txt", "same bytes", map[string]string{"targetFormat": "md"}))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	body := parseJSON(t, resp)
	assert.Equal(t, response.CodeDuplicate, body["code"])
	assert.Equal(t, "Duplicate upload detected. Please wait before retrying the same file.", body["error"])
	assert.Empty(t, ta.stagedFiles(t))

	ta.convert(t, "a.txt", "different bytes", map[string]string{"targetFormat": "html"})
}

func TestConvertChallenge(t *testing.T) {
	siteverify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		ok := r.PostForm.Get("response") == "good-token"
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": ok})
	}))
	defer siteverify.Close()

	ta := setupApp(t, withChallenge(siteverify.URL))

	resp := ta.do(t, convertRequest(t, "a.txt", "x", map[string]string{"targetFormat": "html"}))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Verification failed. Please try again.", parseJSON(t, resp)["error"])

	resp = ta.do(t, convertRequest(t, "a.txt", "x", map[string]string{"targetFormat": "html", "challengeToken": "bad"}))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, ta.stagedFiles(t))

	_, status := ta.convert(t, "a.txt", "x", map[string]string{"targetFormat": "html", "challengeToken": "good-token"})
	assert.Equal(t, "done", status)
}

func TestDownloadArtifactGone(t *testing.T) {
	ta := setupApp(t)
	id, _ := ta.convert(t, "notes.txt", "hello", map[string]string{"targetFormat": "html"})

	require.NoError(t, os.RemoveAll(filepath.Join(ta.root, "converted", id)))

	resp := ta.get(t, "/api/jobs/"+id+"/download")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "Converted file no longer available", parseJSON(t, resp)["error"])
}

func TestUnknownJob(t *testing.T) {
	ta := setupApp(t)
	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/download", "/api/jobs/nope/insights"} {
		resp := ta.get(t, path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "Job not found", parseJSON(t, resp)["error"])
	}
}

func TestHTMLToPDF(t *testing.T) {
	ta := setupApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/html-to-pdf", strings.NewReader(`{"html":""}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, ta.do(t, req).StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/html-to-pdf", strings.NewReader(`{"html":"<p>hi</p>","filename":"cv"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := ta.do(t, req)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, response.CodeUnavailable, parseJSON(t, resp)["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	ta := setupApp(t)
	ta.convert(t, "notes.txt", "hello", map[string]string{"targetFormat": "html"})

	resp := ta.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "docspark_jobs_total")
}

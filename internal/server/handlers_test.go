package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/generator"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/ingestion"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/rag"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/service"
)

// fakePipeline implements the pipeline interface with scripted results.
type fakePipeline struct {
	queryResult    service.QueryResult
	retrieveDocs   []rag.Document
	generateResult generator.Result
	ingestChunks   int
	ingestErr      error
	deleteErr      error
	deleted        []string
	statsResult    service.StatsResult
	statsErr       error
	active         string

	lastQuestion  string
	lastParams    service.QueryParams
	lastText      string
	lastPath      string
	lastNamespace string
	lastMetadata  map[string]string
}

func (f *fakePipeline) Query(_ context.Context, question string, p service.QueryParams) service.QueryResult {
	f.lastQuestion = question
	f.lastParams = p
	return f.queryResult
}

func (f *fakePipeline) RetrieveOnly(_ context.Context, question string, p service.QueryParams) []rag.Document {
	f.lastQuestion = question
	f.lastParams = p
	return f.retrieveDocs
}

func (f *fakePipeline) GenerateOnly(_ context.Context, question, contextText, _ string) generator.Result {
	f.lastQuestion = question
	f.lastText = contextText
	return f.generateResult
}

func (f *fakePipeline) IngestText(_ context.Context, text string, metadata map[string]string, namespace string) (int, error) {
	f.lastText = text
	f.lastMetadata = metadata
	f.lastNamespace = namespace
	return f.ingestChunks, f.ingestErr
}

func (f *fakePipeline) IngestFile(_ context.Context, path string, metadata map[string]string, namespace string) (int, error) {
	f.lastPath = path
	f.lastMetadata = metadata
	f.lastNamespace = namespace
	return f.ingestChunks, f.ingestErr
}

func (f *fakePipeline) IngestDirectory(context.Context, string, []string, string) ([]ingestion.FileResult, error) {
	return nil, nil
}

func (f *fakePipeline) DeleteNamespace(_ context.Context, namespace string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, namespace)
	return nil
}

func (f *fakePipeline) ActiveNamespace() string { return f.active }

func (f *fakePipeline) Stats(context.Context) (service.StatsResult, error) {
	return f.statsResult, f.statsErr
}

// newTestServer wires a Server around the fake with a fresh metrics registry.
func newTestServer(t *testing.T, fake *fakePipeline, cfg *Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	s, err := New(fake, cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// TestHandleQuery_Success verifies the happy path end to end through routing
// and middleware, with the parameters forwarded to the pipeline.
func TestHandleQuery_Success(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{
		active: "default",
		queryResult: service.QueryResult{
			Result: generator.Result{
				Status:      generator.StatusSuccess,
				Answer:      "The liver detoxifies blood.",
				ContextUsed: 2,
			},
			Question:       "What does the liver do?",
			Namespace:      "default",
			RetrievedCount: 2,
			Alpha:          0.5,
		},
	}
	s := newTestServer(t, fake, nil)

	w := postJSON(t, s, "/api/query", `{"question":"What does the liver do?","top_k":3,"with_sources":true}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp service.QueryResult
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != generator.StatusSuccess || resp.Answer != "The liver detoxifies blood." {
		t.Errorf("unexpected response: %+v", resp)
	}
	if fake.lastParams.TopK != 3 || !fake.lastParams.WithSources {
		t.Errorf("params not forwarded: %+v", fake.lastParams)
	}
}

// TestHandleQuery_DegradedStillOK verifies that pipeline degradation travels
// as a tagged status inside a 200 response, never as an HTTP error.
func TestHandleQuery_DegradedStillOK(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{
		active: "default",
		queryResult: service.QueryResult{
			Result: generator.Result{Status: generator.StatusError, Message: "model call failed"},
		},
	}
	s := newTestServer(t, fake, nil)

	w := postJSON(t, s, "/api/query", `{"question":"q"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for degraded result, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"error"`) {
		t.Errorf("expected tagged error status in body: %s", w.Body.String())
	}
}

// TestHandleQuery_Validation verifies the 400 paths.
func TestHandleQuery_Validation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakePipeline{active: "default"}, nil)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `not-json`},
		{"missing question", `{"namespace":"x"}`},
		{"blank question", `{"question":"   "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := postJSON(t, s, "/api/query", tc.body); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

// TestHandleRetrieve_Success verifies retrieval without generation.
func TestHandleRetrieve_Success(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{
		active: "pathology",
		retrieveDocs: []rag.Document{
			{ID: "1", Content: "Necrosis is uncontrolled cell death.", Score: 0.91},
		},
	}
	s := newTestServer(t, fake, nil)

	w := postJSON(t, s, "/api/retrieve", `{"question":"What is necrosis?","namespace":"pathology"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp retrieveResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Namespace != "pathology" {
		t.Errorf("expected namespace %q, got %q", "pathology", resp.Namespace)
	}
	if len(resp.Documents) != 1 || resp.Documents[0].Score != 0.91 {
		t.Errorf("unexpected documents: %+v", resp.Documents)
	}
}

// TestHandleGenerate_Success verifies generation from caller-supplied context.
func TestHandleGenerate_Success(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{
		active:         "default",
		generateResult: generator.Result{Status: generator.StatusSuccess, Answer: "ok", ContextUsed: 1},
	}
	s := newTestServer(t, fake, nil)

	w := postJSON(t, s, "/api/generate", `{"question":"q","context":"Mitosis has four phases."}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if fake.lastText != "Mitosis has four phases." {
		t.Errorf("context text not forwarded, got %q", fake.lastText)
	}
}

// TestHandleIngestText verifies the ingest response shape and the 500 path.
func TestHandleIngestText(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{active: "default", ingestChunks: 4}
	s := newTestServer(t, fake, nil)

	w := postJSON(t, s, "/api/ingest/text", `{"text":"The femur is the longest bone.","namespace":"anatomy"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "success" || resp.Chunks != 4 || resp.Namespace != "anatomy" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if fake.lastNamespace != "anatomy" {
		t.Errorf("namespace not forwarded, got %q", fake.lastNamespace)
	}

	if w := postJSON(t, s, "/api/ingest/text", `{"text":""}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty text, got %d", w.Code)
	}

	fake.ingestErr = fmt.Errorf("store unavailable")
	if w := postJSON(t, s, "/api/ingest/text", `{"text":"x"}`); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on ingest failure, got %d", w.Code)
	}
}

func multipartUpload(t *testing.T, filename, content, namespace string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	if namespace != "" {
		if err := mw.WriteField("namespace", namespace); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// TestHandleIngestFile_Success verifies the multipart upload path, including
// the provenance metadata attached to the spooled file.
func TestHandleIngestFile_Success(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{active: "default", ingestChunks: 2}
	s := newTestServer(t, fake, nil)

	body, contentType := multipartUpload(t, "notes.txt", "The aorta is the largest artery.", "anatomy")
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/file", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Chunks != 2 || resp.Source != "notes.txt" || resp.Namespace != "anatomy" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if fake.lastMetadata["file_name"] != "notes.txt" {
		t.Errorf("expected file_name metadata, got %v", fake.lastMetadata)
	}
	if fake.lastPath == "" || !strings.HasSuffix(fake.lastPath, ".txt") {
		t.Errorf("expected a spooled .txt path, got %q", fake.lastPath)
	}
}

// TestHandleIngestFile_UnsupportedType verifies the 415 rejection before any
// pipeline work happens.
func TestHandleIngestFile_UnsupportedType(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{active: "default"}
	s := newTestServer(t, fake, nil)

	body, contentType := multipartUpload(t, "malware.exe", "MZ", "")
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/file", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
	if fake.lastPath != "" {
		t.Error("pipeline must not be invoked for unsupported file types")
	}
}

// TestHandleNamespaceDelete verifies the delete route and its 500 path.
func TestHandleNamespaceDelete(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{active: "default"}
	s := newTestServer(t, fake, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/namespace/old-course", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "old-course" {
		t.Errorf("expected delete of %q, got %v", "old-course", fake.deleted)
	}

	fake.deleteErr = fmt.Errorf("index offline")
	req = httptest.NewRequest(http.MethodDelete, "/api/namespace/other", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on delete failure, got %d", w.Code)
	}
}

// TestHandleStats verifies the stats route and its 500 path.
func TestHandleStats(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{
		active: "anatomy",
		statsResult: service.StatsResult{
			Index:           rag.Stats{Collection: "medrag-docs", Points: 42},
			ActiveNamespace: "anatomy",
		},
	}
	s := newTestServer(t, fake, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"medrag-docs"`) {
		t.Errorf("expected collection name in body: %s", w.Body.String())
	}

	fake.statsErr = fmt.Errorf("index offline")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on stats failure, got %d", w.Code)
	}
}

// TestHandleHealth verifies the liveness endpoint.
func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakePipeline{active: "default"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

// TestAuthAppliesToAPIRoutes verifies that a configured API key protects the
// /api/ tree while /metrics stays open for scrapers.
func TestAuthAppliesToAPIRoutes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakePipeline{active: "default"}, &Config{APIKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for unauthenticated /metrics, got %d", w.Code)
	}
}

// TestProbeRoutesBypassAuth verifies that liveness and readiness probes stay
// reachable without a token when an API key is configured.
func TestProbeRoutesBypassAuth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakePipeline{active: "default"}, &Config{APIKey: "secret"})

	for _, path := range []string{"/api/health", "/api/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200 without token, got %d", path, w.Code)
		}
	}
}

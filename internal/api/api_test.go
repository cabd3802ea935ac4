package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/auralyze/internal/analysis"
	"github.com/MrWong99/auralyze/internal/health"
	"github.com/MrWong99/auralyze/pkg/audio"
	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/classifier/mock"
	"github.com/MrWong99/auralyze/pkg/features"
)

func testFeatures() features.Config {
	fc := features.DefaultConfig()
	fc.WindowSize = 512
	return fc
}

func pcm(n int) []byte {
	s := make([]float64, n)
	for i := range s {
		s[i] = 0.25 * math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	return audio.Encode(audio.FormatF32LE, s)
}

func newServer(t *testing.T, cls classifier.Classifier, mutate func(*Config)) *Server {
	t.Helper()
	a, err := analysis.New(analysis.Config{Features: testFeatures(), Concurrency: 2}, cls, nil)
	if err != nil {
		t.Fatalf("analysis.New: %v", err)
	}
	cfg := Config{
		Analyzer: a,
		Catalog:  features.Catalog(testFeatures()),
		Health:   health.New(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func multipartBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "clip.raw")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeMessage(t *testing.T, body io.Reader) string {
	t.Helper()
	var e errorBody
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e.Message
}

func TestNew_RequiresAnalyzer(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without analyzer")
	}
}

func TestProcess_Multipart(t *testing.T) {
	t.Parallel()

	cls := &mock.Classifier{Prediction: classifier.Prediction{Label: "ASD_Detected", Confidence: 0.8}}
	s := newServer(t, cls, nil)

	body, ct := multipartBody(t, "file", pcm(2*512))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/audio/process", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var rep analysis.Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Prediction != "ASD_Detected" || rep.Windows != 2 {
		t.Errorf("report = %+v", rep)
	}
	if cls.CallCount() != 2 {
		t.Errorf("classifier calls = %d, want 2", cls.CallCount())
	}
}

func TestProcess_RawBody(t *testing.T) {
	t.Parallel()

	s := newServer(t, &mock.Classifier{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/audio/process", bytes.NewReader(pcm(512)))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestProcess_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cls        classifier.Classifier
		maxUpload  int64
		field      string
		data       []byte
		wantStatus int
	}{
		{"undecodable", &mock.Classifier{}, 0, "file", []byte{1, 2, 3}, http.StatusBadRequest},
		{"empty", &mock.Classifier{}, 0, "file", nil, http.StatusBadRequest},
		{"missing field", &mock.Classifier{}, 0, "audio", pcm(512), http.StatusBadRequest},
		{"too large", &mock.Classifier{}, 1024, "file", pcm(4 * 512), http.StatusRequestEntityTooLarge},
		{"classifier down", &mock.Classifier{Err: errors.New("down")}, 0, "file", pcm(512), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newServer(t, tt.cls, func(c *Config) { c.MaxUploadBytes = tt.maxUpload })

			body, ct := multipartBody(t, tt.field, tt.data)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/audio/process", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if msg := decodeMessage(t, rec.Body); msg == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestProcess_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	s := newServer(t, &mock.Classifier{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audio/process", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestFeatures(t *testing.T) {
	t.Parallel()

	s := newServer(t, &mock.Classifier{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audio/features", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []features.Descriptor
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[0].Name != features.NameMFCC {
		t.Errorf("catalog = %+v", got)
	}
}

func TestOptionalRoutes(t *testing.T) {
	t.Parallel()

	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	s := newServer(t, &mock.Classifier{}, func(c *Config) {
		c.Stream = stream
		c.MetricsHandler = metrics
	})

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/audio/stream", http.StatusTeapot},
		{"/metrics", http.StatusOK},
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestOptionalRoutes_Unregistered(t *testing.T) {
	t.Parallel()

	s := newServer(t, &mock.Classifier{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics = %d, want 404 when no handler is configured", rec.Code)
	}
}

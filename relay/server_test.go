package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go_analyzer/analysis"
	"go_analyzer/logging"
	"go_analyzer/shutdown"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSubmitter struct {
	taskID string
	err    error
	got    *analysis.File
}

func (s *stubSubmitter) Submit(ctx context.Context, file *analysis.File) (string, error) {
	s.got = file
	return s.taskID, s.err
}

type stubQuerier struct {
	out    analysis.Outcome
	err    error
	taskID string
}

func (q *stubQuerier) PollOnce(ctx context.Context, taskID string) (analysis.Outcome, error) {
	q.taskID = taskID
	return q.out, q.err
}

func newTestServer(t *testing.T, sub analysis.Submitter, q analysis.StatusQuerier, tracker Tracker) (*Server, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	s, err := New(sub, q, tracker, logging.NewFromZap(zap.New(core)), Config{MaxFileSize: 1 << 20})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s, logs
}

func multipartBody(t *testing.T, field, name, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, name)}
	h["Content-Type"] = []string{contentType}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	w.Close()
	return &buf, w.FormDataContentType()
}

func decodeJSON(t *testing.T, body io.Reader) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.NewDecoder(body).Decode(&m); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return m
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &stubSubmitter{}, &stubQuerier{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK || decodeJSON(t, rec.Body)["status"] != "ok" {
		t.Errorf("GET /health = %d %s", rec.Code, rec.Body)
	}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		submitErr  error
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{"accepted", "image", nil, http.StatusOK, "taskId", "t-1"},
		{"missing image part", "file", nil, http.StatusBadRequest, "error", "No image file provided"},
		{"validation", "image", &analysis.SubmitError{Kind: analysis.KindValidation, Message: "the selected file is empty"}, http.StatusBadRequest, "error", "the selected file is empty"},
		{"no backend", "image", &analysis.SubmitError{Kind: analysis.KindConfig, Message: "analysis backend is not configured"}, http.StatusInternalServerError, "error", "analysis backend is not configured"},
		{"backend rejected", "image", &analysis.SubmitError{Kind: analysis.KindBackend, Message: "Invalid image"}, http.StatusBadGateway, "error", "Invalid image"},
		{"unreachable", "image", &analysis.SubmitError{Kind: analysis.KindNetwork, Message: "could not reach the analysis service"}, http.StatusBadGateway, "error", "could not reach the analysis service"},
		{"rate limited", "image", fmt.Errorf("%w: wait", analysis.ErrRateLimited), http.StatusTooManyRequests, "error", "too many submissions, try again shortly"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &stubSubmitter{taskID: "t-1", err: tt.submitErr}
			s, _ := newTestServer(t, sub, &stubQuerier{}, nil)

			body, ct := multipartBody(t, tt.field, "face.png", "image/png", []byte("\x89PNG\r\n\x1a\n"))
			req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", rec.Header().Get("Cache-Control"))
			}
			if tt.wantKey != "" {
				if got := decodeJSON(t, rec.Body)[tt.wantKey]; got != tt.wantValue {
					t.Errorf("%s = %q, want %q", tt.wantKey, got, tt.wantValue)
				}
			}
			if tt.name == "accepted" {
				if sub.got == nil || sub.got.Name != "face.png" || sub.got.ContentType != "image/png" {
					t.Errorf("forwarded file = %+v", sub.got)
				}
			}
		})
	}
}

func TestAnalyze_RateLimitRefusesImmediately(t *testing.T) {
	sub := &stubSubmitter{taskID: "t-1"}
	limited := analysis.NewLimitedSubmitter(sub, 0.01, 1, 50*time.Millisecond)
	s, _ := newTestServer(t, limited, &stubQuerier{}, nil)
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	client := &http.Client{Timeout: 3 * time.Second}
	post := func() *http.Response {
		t.Helper()
		body, ct := multipartBody(t, "image", "face.png", "image/png", []byte("\x89PNG\r\n\x1a\n"))
		resp, err := client.Post(server.URL+"/api/analyze", ct, body)
		if err != nil {
			t.Fatalf("POST /api/analyze error: %v", err)
		}
		return resp
	}

	first := post()
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first submission = %d, want 200", first.StatusCode)
	}

	second := post()
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second submission = %d, want 429", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
	if got := decodeJSON(t, second.Body)["error"]; got == "" {
		t.Error("429 without an error message")
	}
}

func TestResult(t *testing.T) {
	tests := []struct {
		name       string
		out        analysis.Outcome
		err        error
		wantStatus int
		wantBody   string
		wantType   string
	}{
		{"pending", analysis.Outcome{Kind: analysis.OutcomePending}, nil, http.StatusAccepted, `{"status":"processing"}`, "application/json"},
		{"success", analysis.Outcome{Kind: analysis.OutcomeSuccess, Payload: []byte("0123456789"), ContentType: "image/png"}, nil, http.StatusOK, "0123456789", "image/png"},
		{"failure", analysis.Outcome{Kind: analysis.OutcomeFailure, Message: "No faces detected"}, nil, http.StatusBadGateway, `{"error":"No faces detected"}`, "application/json"},
		{"lost connection", analysis.Outcome{}, errors.New("dial tcp: refused"), http.StatusBadGateway, `{"error":"lost connection"}`, "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &stubQuerier{out: tt.out, err: tt.err}
			s, _ := newTestServer(t, &stubSubmitter{}, q, nil)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/result/abc-123", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := bytes.TrimSpace(rec.Body.Bytes()); string(got) != tt.wantBody {
				t.Errorf("body = %s, want %s", got, tt.wantBody)
			}
			if rec.Header().Get("Content-Type") != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", rec.Header().Get("Content-Type"), tt.wantType)
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Error("missing Cache-Control: no-store")
			}
			if q.taskID != "abc-123" {
				t.Errorf("queried task %q, want abc-123", q.taskID)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, &stubSubmitter{}, &stubQuerier{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestRejectsDuringShutdown(t *testing.T) {
	m := shutdown.NewManager(logging.NewNop())
	if err := m.Shutdown(); err != nil {
		t.Fatal(err)
	}

	q := &stubQuerier{out: analysis.Outcome{Kind: analysis.OutcomePending}}
	s, _ := newTestServer(t, &stubSubmitter{}, q, m)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/result/x", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if q.taskID != "" {
		t.Error("backend queried after shutdown began")
	}
}

func TestRequestLogging(t *testing.T) {
	q := &stubQuerier{out: analysis.Outcome{Kind: analysis.OutcomeFailure, Message: "x"}}
	s, logs := newTestServer(t, &stubSubmitter{}, q, nil)

	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/result/x", nil))

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("request log entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/api/result/x" || fields["status"] != int64(http.StatusBadGateway) {
		t.Errorf("logged fields = %v", fields)
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Errorf("level = %v, want error for 5xx", entries[0].Level)
	}
}

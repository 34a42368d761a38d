package httprouter_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/entity"
	"mediagrab/internal/errs"
	"mediagrab/internal/events"
	httprouter "mediagrab/internal/infrastructure/delivery/http"
	"mediagrab/internal/uploader"

	"github.com/gorilla/websocket"
)

type fakeService struct {
	mu sync.Mutex

	jobs       map[string]*entity.Job
	enqueueErr error
	cancelErr  error
	uploadErr  error
	configErr  error

	enqueued   []entity.DownloadRequest
	uploadPath string
	uploadMeta *uploader.Metadata
	configured *uploader.ConfigureRequest
}

func newFakeService() *fakeService {
	return &fakeService{jobs: make(map[string]*entity.Job)}
}

func (f *fakeService) Start(context.Context)    {}
func (f *fakeService) Stop(time.Duration) error { return nil }

func (f *fakeService) Enqueue(_ context.Context, url string, req entity.DownloadRequest) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.enqueued = append(f.enqueued, req)
	job := &entity.Job{UUID: "job-1", URL: url, Request: req, Status: entity.JobStatusStarting}

	if f.enqueueErr != nil && !errors.Is(f.enqueueErr, errs.ErrJobAlreadyExists) {
		return nil, f.enqueueErr
	}

	f.jobs[job.UUID] = job

	return job, f.enqueueErr
}

func (f *fakeService) GetByID(_ context.Context, id string) *entity.Job {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.jobs[id]
}

func (f *fakeService) GetAll(context.Context) ([]*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.jobs) == 0 {
		return nil, errs.ErrNoJobs
	}

	jobs := make([]*entity.Job, 0, len(f.jobs))
	for _, job := range f.jobs {
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (f *fakeService) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancelErr != nil {
		return f.cancelErr
	}

	job, ok := f.jobs[id]
	if !ok {
		return errs.ErrJobNotFound
	}

	job.Status = entity.JobStatusCancelled

	return nil
}

func (f *fakeService) ConfigureUpload(_ context.Context, req uploader.ConfigureRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.configured = &req

	return f.configErr
}

func (f *fakeService) UploadExisting(_ context.Context, path string, meta *uploader.Metadata) (*entity.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploadPath = path
	f.uploadMeta = meta

	if f.uploadErr != nil {
		return &entity.UploadResult{Status: http.StatusForbidden, Msg: "bad key"}, f.uploadErr
	}

	return &entity.UploadResult{Status: http.StatusOK, Files: []entity.UploadedFile{{FileCode: "abc"}}}, nil
}

func (f *fakeService) UploadStatus() uploader.Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := f.configured != nil

	return uploader.Status{Configured: set, APIKeySet: set, UploaderReady: set}
}

type envelope struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func newRouter(t *testing.T, svc *fakeService) (*httprouter.Router, *events.Bus) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus(log)
	cfg := &config.Config{
		Dir:  config.Dir{Downloads: "/data"},
		HTTP: config.HTTP{HandlerTimeout: time.Second, UploadTimeout: time.Second},
	}

	return httprouter.New(log, cfg, svc, bus, nil), bus
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}

	return rec.Code, env
}

func TestReadyz(t *testing.T) {
	router, _ := newRouter(t, newFakeService())

	req := httptest.NewRequest(http.MethodGet, "/v1/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("readyz = %d %q", rec.Code, rec.Body.String())
	}

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestEnqueue(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		enqueueErr error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "accepted",
			body:       `{"url":"https://example.com/view?k=1","title":"clip","uploader":"someone"}`,
			wantStatus: http.StatusAccepted,
			wantMsg:    "job enqueued",
		},
		{
			name:       "malformed body",
			body:       `{"url":`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "invalid request body",
		},
		{
			name:       "invalid url",
			body:       `{"url":"not a url","title":"clip"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "unprocessable entity",
		},
		{
			name:       "missing title",
			body:       `{"url":"https://example.com/view?k=1"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "unprocessable entity",
		},
		{
			name:       "already exists",
			body:       `{"url":"https://example.com/view?k=1","title":"clip"}`,
			enqueueErr: errs.ErrJobAlreadyExists,
			wantStatus: http.StatusOK,
			wantMsg:    "job already exists",
		},
		{
			name:       "queue full",
			body:       `{"url":"https://example.com/view?k=1","title":"clip"}`,
			enqueueErr: errs.ErrJobQueueFull,
			wantStatus: http.StatusServiceUnavailable,
			wantMsg:    "service unavailable",
		},
		{
			name:       "unexpected",
			body:       `{"url":"https://example.com/view?k=1","title":"clip"}`,
			enqueueErr: errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "job enqueue failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.enqueueErr = tt.enqueueErr
			router, _ := newRouter(t, svc)

			status, env := do(t, router, http.MethodPost, "/v1/jobs/enqueue", tt.body)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}

			if env.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", env.Message, tt.wantMsg)
			}

			if tt.wantStatus == http.StatusAccepted {
				var job entity.Job
				if err := json.Unmarshal(env.Data, &job); err != nil {
					t.Fatalf("decode job: %v", err)
				}

				if job.UUID != "job-1" || job.Request.Title != "clip" {
					t.Errorf("job = %+v", job)
				}

				if got := svc.enqueued[0].Uploader; got == nil || *got != "someone" {
					t.Errorf("uploader not forwarded: %v", got)
				}
			}
		})
	}
}

func TestJobs(t *testing.T) {
	svc := newFakeService()
	router, _ := newRouter(t, svc)

	if status, _ := do(t, router, http.MethodGet, "/v1/jobs/", ""); status != http.StatusNoContent {
		t.Errorf("empty list status = %d, want 204", status)
	}

	if status, _ := do(t, router, http.MethodGet, "/v1/jobs/missing", ""); status != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", status)
	}

	do(t, router, http.MethodPost, "/v1/jobs/enqueue", `{"url":"https://example.com/v","title":"clip"}`)

	status, env := do(t, router, http.MethodGet, "/v1/jobs/", "")
	if status != http.StatusOK || env.Message != "jobs retrieved" {
		t.Errorf("list = %d %q", status, env.Message)
	}

	status, env = do(t, router, http.MethodGet, "/v1/jobs/job-1", "")
	if status != http.StatusOK || env.Message != "job retrieved" {
		t.Errorf("get = %d %q", status, env.Message)
	}

	status, env = do(t, router, http.MethodDelete, "/v1/jobs/job-1/cancel", "")
	if status != http.StatusOK || env.Message != "job cancelled" {
		t.Errorf("cancel = %d %q", status, env.Message)
	}

	if status, _ := do(t, router, http.MethodDelete, "/v1/jobs/missing/cancel", ""); status != http.StatusNotFound {
		t.Errorf("cancel missing = %d, want 404", status)
	}

	svc.cancelErr = errs.ErrJobCancelled

	if status, _ := do(t, router, http.MethodDelete, "/v1/jobs/job-1/cancel", ""); status != http.StatusConflict {
		t.Errorf("cancel terminal = %d, want 409", status)
	}
}

func TestUploadRoutes(t *testing.T) {
	svc := newFakeService()
	router, _ := newRouter(t, svc)

	status, env := do(t, router, http.MethodGet, "/v1/upload/status", "")
	if status != http.StatusOK || !strings.Contains(string(env.Data), `"configured":false`) {
		t.Errorf("status = %d %s", status, env.Data)
	}

	if status, _ := do(t, router, http.MethodPost, "/v1/upload/configure", `{"api_key":""}`); status != http.StatusUnprocessableEntity {
		t.Errorf("empty key = %d, want 422", status)
	}

	status, env = do(t, router, http.MethodPost, "/v1/upload/configure",
		`{"api_key":"key","auto_upload":true,"settings":{"folder_id":"7","public":true}}`)
	if status != http.StatusOK || env.Message != "upload configured" {
		t.Fatalf("configure = %d %q", status, env.Message)
	}

	if svc.configured.Settings == nil || svc.configured.Settings.FolderID != "7" || !svc.configured.AutoUpload {
		t.Errorf("configure request = %+v", svc.configured)
	}

	svc.configErr = errs.ErrUpload

	if status, _ := do(t, router, http.MethodPost, "/v1/upload/configure", `{"api_key":"key"}`); status != http.StatusBadGateway {
		t.Errorf("failed connection test = %d, want 502", status)
	}

	if status, _ := do(t, router, http.MethodPost, "/v1/upload/existing", `{"path":"clip.mp4"}`); status != http.StatusUnprocessableEntity {
		t.Errorf("relative path = %d, want 422", status)
	}

	for _, path := range []string{"/etc/passwd", "/data/../x"} {
		if status, _ := do(t, router, http.MethodPost, "/v1/upload/existing", `{"path":"`+path+`"}`); status != http.StatusUnprocessableEntity {
			t.Errorf("path %q = %d, want 422", path, status)
		}
	}

	if svc.uploadPath != "" {
		t.Fatalf("rejected path reached the service: %q", svc.uploadPath)
	}

	status, env = do(t, router, http.MethodPost, "/v1/upload/existing", `{"path":"/data/clip.mp4"}`)
	if status != http.StatusOK || env.Message != "upload done" {
		t.Errorf("existing = %d %q", status, env.Message)
	}

	if svc.uploadPath != "/data/clip.mp4" || svc.uploadMeta != nil {
		t.Errorf("upload call = %q %+v", svc.uploadPath, svc.uploadMeta)
	}

	svc.uploadErr = errs.ErrUpload

	status, env = do(t, router, http.MethodPost, "/v1/upload/existing", `{"path":"/data/clip.mp4","title":"Nice"}`)
	if status != http.StatusBadGateway || !strings.Contains(string(env.Data), "bad key") {
		t.Errorf("failed upload = %d %s", status, env.Data)
	}

	svc.uploadErr = errs.ErrUploaderNotConfigured

	if status, _ := do(t, router, http.MethodPost, "/v1/upload/existing", `{"path":"/data/clip.mp4"}`); status != http.StatusConflict {
		t.Errorf("not configured = %d, want 409", status)
	}
}

func TestEvents_RejectsForeignOrigin(t *testing.T) {
	router, bus := newRouter(t, newFakeService())

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		conn.Close()
		t.Fatal("dial from foreign origin succeeded")
	}

	if resp != nil {
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
	}

	if bus.Subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0", bus.Subscribers())
	}
}

func TestEvents(t *testing.T) {
	router, bus := newRouter(t, newFakeService())

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}

		time.Sleep(10 * time.Millisecond)
	}

	em := events.NewEmitter("job-1", bus)
	em.Download(42)
	em.Finished(true, "")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var got []events.Event

	for range 2 {
		var e events.Event
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("read: %v", err)
		}

		got = append(got, e)
	}

	if got[0].Kind != events.KindDownloadProgress || got[0].Percent != 42 || got[0].JobID != "job-1" {
		t.Errorf("first event = %+v", got[0])
	}

	if got[1].Kind != events.KindFinished || !got[1].Success {
		t.Errorf("second event = %+v", got[1])
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	deadline = time.Now().Add(2 * time.Second)
	for bus.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after close")
		}

		time.Sleep(10 * time.Millisecond)
	}
}

//go:build integration
// +build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/depmanager"
	"mediagrab/internal/downloader"
	"mediagrab/internal/entity"
	"mediagrab/internal/events"
	httprouter "mediagrab/internal/infrastructure/delivery/http"
	"mediagrab/internal/scraper"
	"mediagrab/internal/service"
	"mediagrab/internal/storage"
	"mediagrab/internal/uploader"
	"mediagrab/pkg/logger"
)

// fakeFFmpeg reports a finished remux and writes its last argument.
const fakeFFmpeg = `#!/bin/sh
for last; do :; done
echo "out_time=00:00:05.000000"
echo "progress=continue"
echo "out_time=00:00:10.000000"
echo "progress=end"
printf remuxed > "$last"
`

const fakeFFprobe = `#!/bin/sh
echo '{"format":{"duration":"10.000000"}}'
`

const directPage = `<html><head><script>
var flashvars_1 = {"mediaDefinitions":[
 {"videoUrl":"%[1]s/media/720P_4000K.mp4","quality":"720"},
 {"videoUrl":"%[1]s/hls/1080/index.m3u8","quality":"1080"}
]};
</script></head></html>`

const streamPage = `<html><head><script>
var flashvars_2 = {"mediaDefinitions":[
 {"videoUrl":"%[1]s/hls/1080/index.m3u8","quality":"1080"}
]};
</script></head></html>`

const slowPage = `<html><head><script>
var flashvars_3 = {"mediaDefinitions":[
 {"videoUrl":"%[1]s/media/slow_480P.mp4","quality":"480"}
]};
</script></head></html>`

var mediaPayload = strings.Repeat("m", 256*1024)

type apiResponse struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	cfg      *config.Config
	client   *http.Client
	url      string
	site     string
	hostURL  string
	uploaded chan string
}

// videoSite serves three pages: one with a direct file, one stream-only and one
// whose file trickles until the request is cancelled.
func videoSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	for path, page := range map[string]string{
		"/view_video.php/direct": directPage,
		"/view_video.php/stream": streamPage,
		"/view_video.php/slow":   slowPage,
	} {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprintf(w, page, "http://"+r.Host)
		})
	}

	mux.HandleFunc("/media/720P_4000K.mp4", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(mediaPayload)))
		_, _ = w.Write([]byte(mediaPayload))
	})
	mux.HandleFunc("/media/slow_480P.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(1<<30))

		flusher, _ := w.(http.Flusher)

		for {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
				_, _ = w.Write([]byte(strings.Repeat("s", 1024)))
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
	})
	mux.HandleFunc("/hls/1080/index.m3u8", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-TARGETDURATION:5\n#EXTINF:5,\nseg0.ts\n#EXTINF:5,\nseg1.ts\n#EXT-X-ENDLIST\n")
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

// videoHost mimics the upload API and reports every uploaded file name.
func videoHost(t *testing.T, key string, uploaded chan<- string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/account/info", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if r.URL.Query().Get("key") != key {
			status = http.StatusForbidden
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "msg": "OK"})
	})
	mux.HandleFunc("/api/upload/server", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 200, "result": "http://" + r.Host + "/upload"})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		_, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		select {
		case uploaded <- header.Filename:
		default:
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": 200,
			"files":  []map[string]string{{"filecode": "code1", "filename": header.Filename}},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

// newFixture wires the whole service the way main does, against local fakes.
func newFixture(t *testing.T, mutateCfg func(cfg *config.Config)) *fixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}

	baseDir := t.TempDir()
	binsDir := filepath.Join(baseDir, "bins")

	if err := os.MkdirAll(binsDir, 0o755); err != nil {
		t.Fatalf("mkdir bins dir: %v", err)
	}

	site := videoSite(t)
	uploaded := make(chan string, 4)
	host := videoHost(t, "secret", uploaded)

	cfg, err := config.New()
	if err != nil {
		t.Fatalf("config new: %v", err)
	}

	cfg.Dir.Downloads = filepath.Join(baseDir, "downloads")
	cfg.DepManager.BinsDir = binsDir
	cfg.DepManager.AllowInstall = false
	cfg.Upload.BaseURL = host.URL
	cfg.Upload.ViewURL = host.URL
	cfg.Upload.APIKey = ""
	cfg.Upload.AutoUpload = false
	cfg.Upload.SettingsFile = filepath.Join(baseDir, "upload.toml")
	cfg.Storage.CleanupInterval = time.Hour
	cfg.Job.Timeout = 10 * time.Second
	cfg.Source.QualityPriority = []string{"1080", "720", "480"}

	if mutateCfg != nil {
		mutateCfg(cfg)
	}

	log := logger.Discard()
	ctx, cancel := context.WithCancel(t.Context())

	depMgr := depmanager.New(log, cfg.DepManager, nil)

	for name, body := range map[depmanager.BinaryName]string{
		depmanager.BinaryFFmpeg:  fakeFFmpeg,
		depmanager.BinaryFFprobe: fakeFFprobe,
	} {
		if err := os.WriteFile(depMgr.GetBinaryPath(name), []byte(body), 0o755); err != nil {
			t.Fatalf("write fake %s: %v", name, err)
		}
	}

	bus := events.NewBus(log)
	storer := storage.New(ctx, log, cfg, nil)
	bus.Attach(storer)

	client := site.Client()
	fetcher := downloader.NewFileFetcher(log, client, nil, cfg.Source.ChunkSize)
	transcoder := downloader.NewStreamTranscoder(log, depMgr,
		downloader.NewHLSFetcher(log, fetcher, false), cfg.HLS, nil)

	uploads, err := uploader.NewManager(log, cfg.Upload, cfg.Source.Tags, nil,
		uploader.NewSettingsStore(cfg.Upload.SettingsFile),
		func(apiKey string) uploader.Client {
			return uploader.NewHTTPClient(log, host.Client(), cfg.Upload.BaseURL, apiKey)
		})
	if err != nil {
		t.Fatalf("uploader manager: %v", err)
	}

	pipeline := downloader.New(log, cfg, nil, scraper.New(log, client, nil), fetcher, transcoder, uploads)

	svc := service.New(cfg, log, pipeline, storer, bus, uploads, nil)
	svc.Start(ctx)

	router := httprouter.New(log, cfg, svc, bus, nil)
	server := httptest.NewServer(router)

	httpClient := server.Client()
	httpClient.Timeout = 5 * time.Second

	t.Cleanup(func() {
		_ = svc.Stop(time.Second)
		cancel()
		server.Close()
	})

	return &fixture{
		cfg:      cfg,
		client:   httpClient,
		url:      server.URL,
		site:     site.URL,
		hostURL:  host.URL,
		uploaded: uploaded,
	}
}

func (fx *fixture) do(t *testing.T, method, path string, body any) (int, apiResponse) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, fx.url+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := fx.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, decodeAPIResponse(t, resp)
}

func (fx *fixture) enqueue(t *testing.T, page, title string) (int, entity.Job) {
	t.Helper()

	status, resp := fx.do(t, http.MethodPost, "/v1/jobs/enqueue", map[string]string{
		"url":      fx.site + "/view_video.php/" + page,
		"title":    title,
		"uploader": "someone",
	})

	return status, decodeJob(t, resp)
}

func (fx *fixture) getJob(t *testing.T, jobID string) (int, entity.Job) {
	t.Helper()

	status, resp := fx.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	if status != http.StatusOK {
		return status, entity.Job{}
	}

	return status, decodeJob(t, resp)
}

func (fx *fixture) waitForJobStatus(t *testing.T, jobID string, timeout time.Duration, want entity.JobStatus) entity.Job {
	t.Helper()

	deadline := time.Now().Add(timeout)

	var last entity.Job

	for time.Now().Before(deadline) {
		statusCode, job := fx.getJob(t, jobID)
		if statusCode == http.StatusOK {
			last = job
			if job.Status == want {
				return job
			}
		}

		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("wait for job status %q timed out, last status %q (%s)", want, last.Status, last.Error)

	return entity.Job{}
}

func decodeAPIResponse(t *testing.T, resp *http.Response) apiResponse {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}

	var decoded apiResponse
	if len(body) == 0 {
		return decoded
	}

	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal response body: %v body=%q", err, string(body))
	}

	return decoded
}

func decodeJob(t *testing.T, response apiResponse) entity.Job {
	t.Helper()

	var job entity.Job
	if len(response.Data) == 0 || string(response.Data) == "null" {
		return job
	}

	if err := json.Unmarshal(response.Data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}

	return job
}

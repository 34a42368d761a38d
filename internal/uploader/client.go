// Package uploader publishes finished files to a streamwish-style video host.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"mediagrab/internal/entity"
	"mediagrab/internal/errs"
	"mediagrab/pkg/calc"

	"github.com/dustin/go-humanize"
)

const maxResponseSize = 1 << 20

// Metadata describes the uploaded video on the host.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
	Duration    string `json:"duration,omitempty"`
	Views       string `json:"views,omitempty"`
	Rating      string `json:"rating,omitempty"`
}

// Settings are the host-side placement options of an upload.
type Settings struct {
	FolderID   string `json:"folder_id"   toml:"folder_id"`
	CategoryID string `json:"category_id" toml:"category_id"`
	Public     bool   `json:"public"      toml:"public"`
	Adult      bool   `json:"adult"       toml:"adult"`
}

// DefaultSettings returns public, adult-flagged uploads into the root folder.
func DefaultSettings() Settings {
	return Settings{Public: true, Adult: true}
}

// Client is the capability the rest of the service needs from the host.
type Client interface {
	TestConnection(ctx context.Context) error
	UploadVideo(
		ctx context.Context,
		path string,
		meta Metadata,
		settings Settings,
		progress func(percent int),
	) (*entity.UploadResult, error)
}

// HTTPClient talks to the host API.
type HTTPClient struct {
	log     *slog.Logger
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPClient creates an HTTPClient. client defaults to http.DefaultClient.
func NewHTTPClient(log *slog.Logger, client *http.Client, baseURL, apiKey string) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPClient{
		log:     log.With(slog.String("package", "uploader")),
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type apiResponse struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Result json.RawMessage `json:"result"`
}

// TestConnection checks the API key against the account endpoint.
func (c *HTTPClient) TestConnection(ctx context.Context) error {
	resp, err := c.getJSON(ctx, "/api/account/info")
	if err != nil {
		return err
	}

	if resp.Status != http.StatusOK {
		return fmt.Errorf("%w: account info: status %d: %s", errs.ErrUpload, resp.Status, resp.Msg)
	}

	return nil
}

// UploadVideo streams path to the upload server assigned by the API. The result
// is returned whenever the host answered, including rejections, which also wrap
// errs.ErrUpload.
func (c *HTTPClient) UploadVideo(
	ctx context.Context,
	path string,
	meta Metadata,
	settings Settings,
	progress func(percent int),
) (*entity.UploadResult, error) {
	if progress == nil {
		progress = func(int) {}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", errs.ErrUpload, path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", errs.ErrUpload, path, err)
	}

	serverURL, err := c.uploadServer(ctx)
	if err != nil {
		return nil, err
	}

	c.log.InfoContext(ctx, "uploading",
		slog.String("file", filepath.Base(path)),
		slog.String("size", humanize.Bytes(uint64(info.Size()))),
		slog.String("server", serverURL))

	body, contentType := c.multipartBody(file, info.Size(), meta, settings, progress)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", errs.ErrUpload, err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: post: %w", errs.ErrUpload, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", errs.ErrUpload, err)
	}

	var result entity.UploadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response (http %d): %w", errs.ErrUpload, resp.StatusCode, err)
	}

	if !result.OK() {
		return &result, fmt.Errorf("%w: status %d: %s", errs.ErrUpload, result.Status, result.Msg)
	}

	progress(100)

	return &result, nil
}

// uploadServer asks the API for the URL the file must be posted to.
func (c *HTTPClient) uploadServer(ctx context.Context) (string, error) {
	resp, err := c.getJSON(ctx, "/api/upload/server")
	if err != nil {
		return "", err
	}

	var server string
	if resp.Status != http.StatusOK || json.Unmarshal(resp.Result, &server) != nil || server == "" {
		return "", fmt.Errorf("%w: upload server: status %d: %s", errs.ErrUpload, resp.Status, resp.Msg)
	}

	return server, nil
}

// multipartBody encodes the form while it is read, so the file is never held in memory.
func (c *HTTPClient) multipartBody(
	file io.Reader,
	size int64,
	meta Metadata,
	settings Settings,
	progress func(int),
) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		fields := [][2]string{
			{"key", c.apiKey},
			{"file_title", meta.Title},
			{"file_descr", meta.Description},
			{"tags", meta.Tags},
			{"fld_id", settings.FolderID},
			{"cat_id", settings.CategoryID},
			{"file_public", boolField(settings.Public)},
			{"file_adult", boolField(settings.Adult)},
		}

		for _, f := range fields {
			if err := writer.WriteField(f[0], f[1]); err != nil {
				pw.CloseWithError(err)

				return
			}
		}

		part, err := writer.CreateFormFile("file", filepath.Base(fileName(file)))
		if err != nil {
			pw.CloseWithError(err)

			return
		}

		counter := &countingReader{r: file, total: size, progress: progress}
		if _, err := io.Copy(part, counter); err != nil {
			pw.CloseWithError(err)

			return
		}

		pw.CloseWithError(writer.Close())
	}()

	return pr, writer.FormDataContentType()
}

func (c *HTTPClient) getJSON(ctx context.Context, path string) (*apiResponse, error) {
	endpoint := c.baseURL + path + "?" + url.Values{"key": {c.apiKey}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", errs.ErrUpload, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", errs.ErrUpload, path, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode %s (http %d): %w", errs.ErrUpload, path, resp.StatusCode, err)
	}

	return &out, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}

	return "0"
}

func fileName(r io.Reader) string {
	if f, ok := r.(*os.File); ok {
		return f.Name()
	}

	return "video.mp4"
}

// countingReader reports floor(100*read/total) as the file is consumed.
type countingReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		c.progress(calc.FloorProgress(c.read, c.total))
	}

	return n, err
}

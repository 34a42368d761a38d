// Package request defines the HTTP request bodies and their validation.
package request

import (
	"path/filepath"
	"strings"

	"mediagrab/internal/entity"
	"mediagrab/internal/errs"
	"mediagrab/internal/uploader"
	"mediagrab/pkg/ptr"
	"mediagrab/pkg/urls"
)

// Enqueue starts a download of one video page.
type Enqueue struct {
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Uploader *string `json:"uploader,omitempty"`
	Duration *string `json:"duration,omitempty"`
	Views    *string `json:"views,omitempty"`
	Rating   *string `json:"rating,omitempty"`
}

func (e *Enqueue) Validate() error {
	if !urls.IsURLValid(strings.TrimSpace(e.URL)) {
		return errs.ErrInvalidURL
	}

	if strings.TrimSpace(e.Title) == "" {
		return errs.ErrInvalidTitle
	}

	return nil
}

// DownloadRequest converts the body into the job request.
func (e *Enqueue) DownloadRequest() entity.DownloadRequest {
	return entity.DownloadRequest{
		Title:     e.Title,
		SourceURL: e.URL,
		Uploader:  ptr.Trimmed(e.Uploader),
		Duration:  ptr.Trimmed(e.Duration),
		Views:     ptr.Trimmed(e.Views),
		Rating:    ptr.Trimmed(e.Rating),
	}
}

// ConfigureUpload sets the video host credentials and options.
type ConfigureUpload struct {
	APIKey            string             `json:"api_key"`
	AutoUpload        bool               `json:"auto_upload"`
	DeleteAfterUpload *bool              `json:"delete_after_upload,omitempty"`
	Settings          *uploader.Settings `json:"settings,omitempty"`
}

func (c *ConfigureUpload) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errs.ErrInvalidAPIKey
	}

	return nil
}

// ConfigureRequest converts the body into the uploader request.
func (c *ConfigureUpload) ConfigureRequest() uploader.ConfigureRequest {
	return uploader.ConfigureRequest{
		APIKey:            c.APIKey,
		AutoUpload:        c.AutoUpload,
		DeleteAfterUpload: c.DeleteAfterUpload,
		Settings:          c.Settings,
	}
}

// UploadExisting uploads a file already in the server filesystem.
type UploadExisting struct {
	Path        string `json:"path"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Tags        string `json:"tags,omitempty"`
}

// Validate accepts only absolute paths that stay inside downloadsDir once
// cleaned. On success Path holds the cleaned form.
func (u *UploadExisting) Validate(downloadsDir string) error {
	if u.Path == "" || !filepath.IsAbs(u.Path) || downloadsDir == "" {
		return errs.ErrInvalidPath
	}

	root, err := filepath.Abs(downloadsDir)
	if err != nil {
		return errs.ErrInvalidPath
	}

	path := filepath.Clean(u.Path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errs.ErrInvalidPath
	}

	u.Path = path

	return nil
}

// Metadata returns nil when the body carries no title, letting the uploader
// derive one from the file name.
func (u *UploadExisting) Metadata() *uploader.Metadata {
	title := strings.TrimSpace(u.Title)
	if title == "" {
		return nil
	}

	return &uploader.Metadata{
		Title:       title,
		Description: u.Description,
		Tags:        u.Tags,
	}
}

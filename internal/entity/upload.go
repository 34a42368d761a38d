package entity

import (
	"log/slog"
	"net/http"
)

// UploadedFile is one file entry of an upload API result.
type UploadedFile struct {
	FileCode string `json:"filecode"`
	FileName string `json:"filename,omitempty"`
	Status   string `json:"status,omitempty"`
}

// UploadResult is the remote hosting API result of an upload.
type UploadResult struct {
	Status int            `json:"status"`
	Msg    string         `json:"msg,omitempty"`
	Files  []UploadedFile `json:"files,omitempty"`
}

// OK reports whether the upload succeeded. Status 200 is the only success criterion.
func (r *UploadResult) OK() bool {
	return r != nil && r.Status == http.StatusOK
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r UploadResult) LogValue() slog.Value {
	codes := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		codes = append(codes, f.FileCode)
	}

	return slog.GroupValue(
		slog.Int("status", r.Status),
		slog.String("msg", r.Msg),
		slog.Any("filecodes", codes),
	)
}

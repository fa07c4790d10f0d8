// Package ingest drives uploaded documents through the indexing pipeline:
// upload, import into the file search store, and poll until the index
// reports the document active or the deadline passes.
//
// The pipeline never returns an error: every failure is converted into a
// per-file error status, so a batch of N files can partially succeed.
package ingest

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an uploaded file.
type Status string

const (
	// StatusPending is the state at selection time, before any network call.
	StatusPending Status = "pending"

	// StatusUploading is the state while the raw content transfers.
	StatusUploading Status = "uploading"

	// StatusProcessing is the state while the import operation runs.
	StatusProcessing Status = "processing"

	// StatusActive is the terminal success state: the document is searchable.
	StatusActive Status = "active"

	// StatusError is the terminal failure state; Error carries the reason.
	StatusError Status = "error"
)

// Validation errors, detected before any network call.
var (
	// ErrUnsupportedType indicates the file extension is not indexable.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrFileTooLarge indicates the file exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrEmptyFile indicates the file has no content.
	ErrEmptyFile = errors.New("empty file")
)

// supportedExtensions are the document types the file search store can
// index. Extensions are lowercase with the leading dot.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".html": true,
	".csv":  true,
	".json": true,
	".xml":  true,
	".docx": true,
	".go":   true,
	".py":   true,
	".js":   true,
	".ts":   true,
	".java": true,
	".c":    true,
	".cpp":  true,
	".sh":   true,
	".yaml": true,
	".yml":  true,
}

// extensionMIMETypes covers types the platform mime database may miss.
var extensionMIMETypes = map[string]string{
	".md":   "text/markdown",
	".go":   "text/plain",
	".py":   "text/x-python",
	".sh":   "text/plain",
	".yaml": "text/plain",
	".yml":  "text/plain",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// File is one uploaded document moving through the pipeline.
//
// Invariant: RemoteName is set once the upload succeeded, which means
// status has reached at least StatusProcessing; a file that failed before
// upload completion has an empty RemoteName.
type File struct {
	ID          uuid.UUID
	DisplayName string
	Size        int64
	MIMEType    string
	Content     []byte

	Status Status
	Error  string

	// RemoteName is the resource name assigned by the upload API.
	RemoteName string

	CreatedAt time.Time
}

// NewFile creates a pending File from in-memory content.
func NewFile(displayName, mimeType string, content []byte) *File {
	return &File{
		ID:          uuid.New(),
		DisplayName: displayName,
		Size:        int64(len(content)),
		MIMEType:    mimeType,
		Content:     content,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
}

// NewFileFromPath reads a local file and creates a pending File.
// MIME type is resolved from the extension.
func NewFileFromPath(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	name := filepath.Base(path)
	return NewFile(name, MIMETypeFor(name), content), nil
}

// MIMETypeFor resolves a MIME type from a file name's extension,
// defaulting to application/octet-stream.
func MIMETypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := extensionMIMETypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		// Strip parameters like "; charset=utf-8"; the upload API wants
		// the bare type.
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		return mt
	}
	return "application/octet-stream"
}

// Validate rejects unsupported or oversized files before any network
// call. maxSize <= 0 disables the size check.
func (f *File) Validate(maxSize int64) error {
	ext := strings.ToLower(filepath.Ext(f.DisplayName))
	if !supportedExtensions[ext] {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	if f.Size == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFile, f.DisplayName)
	}
	if maxSize > 0 && f.Size > maxSize {
		return fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, f.DisplayName, f.Size, maxSize)
	}
	return nil
}

// fail moves the file into the terminal error state.
func (f *File) fail(err error) *File {
	f.Status = StatusError
	f.Error = err.Error()
	return f
}

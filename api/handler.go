package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pdfconvapi/config"
	"pdfconvapi/converter"
	"pdfconvapi/task"

	"github.com/c2h5oh/datasize"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipartOverhead is allowed on top of the upload limit for form fields
// and part headers.
const multipartOverhead = 1 << 20

// CapabilityLister reports the supported output formats.
type CapabilityLister interface {
	Capabilities() []converter.Capability
}

// Inspector examines a PDF on disk for the validate endpoint.
type Inspector interface {
	Inspect(ctx context.Context, path string) (*converter.Info, error)
}

type Handler struct {
	taskManager *task.Manager
	formats     CapabilityLister
	inspector   Inspector
	cfg         *config.Config
	logger      *zap.Logger
}

func NewHandler(tm *task.Manager, formats CapabilityLister, inspector Inspector, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		taskManager: tm,
		formats:     formats,
		inspector:   inspector,
		cfg:         cfg,
		logger:      logger,
	}
}

// ConversionForm holds the non-file fields of an upload. Unset numeric and
// boolean fields fall back to task.DefaultOptions.
type ConversionForm struct {
	Format         string `form:"format" binding:"required"`
	Pages          string `form:"pages"`
	Quality        *int   `form:"quality"`
	DPI            *int   `form:"dpi"`
	PreserveLayout *bool  `form:"preserve_layout"`
}

func (f ConversionForm) options() task.Options {
	opts := task.DefaultOptions()
	opts.Pages = strings.TrimSpace(f.Pages)
	if f.Quality != nil {
		opts.Quality = *f.Quality
	}
	if f.DPI != nil {
		opts.DPI = *f.DPI
	}
	if f.PreserveLayout != nil {
		opts.PreserveLayout = *f.PreserveLayout
	}
	return opts
}

type statusResponse struct {
	TaskID    string      `json:"task_id"`
	Status    task.Status `json:"status"`
	Progress  float64     `json:"progress"`
	Message   string      `json:"message,omitempty"`
	ResultURL string      `json:"result_url,omitempty"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type pdfMetadata struct {
	Title   string `json:"title"`
	Author  string `json:"author"`
	Subject string `json:"subject"`
}

type validateResponse struct {
	Valid         bool        `json:"valid"`
	FileName      string      `json:"file_name"`
	FileSize      int64       `json:"file_size"`
	FileSizeHuman string      `json:"file_size_human"`
	PageCount     int         `json:"page_count"`
	Metadata      pdfMetadata `json:"metadata"`
	HasText       bool        `json:"has_text"`
	ImageCount    int         `json:"image_count"`
}

// handleCreateConversion accepts a PDF upload and schedules its conversion.
func (h *Handler) handleCreateConversion(c *gin.Context) {
	fh, ok := h.receiveFile(c)
	if !ok {
		return
	}

	var form ConversionForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid form: %v", err)})
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.writeError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	format := task.Format(strings.ToLower(strings.TrimSpace(form.Format)))
	t, err := h.taskManager.Submit(c.Request.Context(), task.Upload{Reader: f, FileName: fh.Filename}, format, form.options())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": t.ID, "status": t.Status})
}

// handleGetStatus reports progress and, once completed, where to download.
func (h *Handler) handleGetStatus(c *gin.Context) {
	t, err := h.taskManager.Get(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := statusResponse{
		TaskID:    t.ID,
		Status:    t.Status,
		Progress:  t.Progress,
		Message:   t.ErrorMessage,
		ExpiresAt: t.ExpiresAt,
	}
	if t.Status == task.StatusCompleted {
		resp.ResultURL = h.buildResultURL(c, t.ID)
	}
	c.JSON(http.StatusOK, resp)
}

// buildResultURL constructs the download URL, preferring the configured base.
func (h *Handler) buildResultURL(c *gin.Context, id string) string {
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return fmt.Sprintf("%s/api/v1/conversion/%s/download", baseURL, id)
}

// handleDownload serves the artifact of a completed task.
func (h *Handler) handleDownload(c *gin.Context) {
	path, err := h.taskManager.Download(c.Request.Context(), c.Param("task_id"))
	if errors.Is(err, task.ErrInvalidState) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Conversion not completed yet"})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// handleCancel stops a pending or running conversion.
func (h *Handler) handleCancel(c *gin.Context) {
	t, err := h.taskManager.Cancel(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": t.ID, "status": t.Status})
}

func (h *Handler) handleListFormats(c *gin.Context) {
	c.JSON(http.StatusOK, h.formats.Capabilities())
}

// handleValidate inspects an uploaded PDF without creating a task.
func (h *Handler) handleValidate(c *gin.Context) {
	fh, ok := h.receiveFile(c)
	if !ok {
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.writeError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if !task.IsPDF(br) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File must be a PDF"})
		return
	}

	tmp, err := os.CreateTemp(h.cfg.WorkDir, "validate-*.pdf")
	if err != nil {
		h.writeError(c, fmt.Errorf("create temp file: %w", err))
		return
	}
	defer os.Remove(tmp.Name())
	size, err := io.Copy(tmp, br)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		h.writeError(c, fmt.Errorf("write temp file: %w", err))
		return
	}

	info, err := h.inspector.Inspect(c.Request.Context(), tmp.Name())
	if errors.Is(err, converter.ErrInvalidPDF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid PDF file: %v", err)})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, validateResponse{
		Valid:         true,
		FileName:      fh.Filename,
		FileSize:      size,
		FileSizeHuman: datasize.ByteSize(size).HumanReadable(),
		PageCount:     info.PageCount,
		Metadata:      pdfMetadata{Title: info.Title, Author: info.Author, Subject: info.Subject},
		HasText:       info.HasText,
		ImageCount:    info.ImageCount,
	})
}

// receiveFile extracts the "file" part, answering 413 for oversized bodies
// and 400 when the part is missing.
func (h *Handler) receiveFile(c *gin.Context) (*multipart.FileHeader, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadSize+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(c)
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "A PDF file is required in the 'file' field"})
		return nil, false
	}
	if fh.Size > h.cfg.MaxUploadSize {
		h.tooLarge(c)
		return nil, false
	}
	return fh, true
}

func (h *Handler) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error": fmt.Sprintf("File size exceeds the maximum allowed size of %s", datasize.ByteSize(h.cfg.MaxUploadSize).HumanReadable()),
	})
}

// writeError maps task errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *task.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, task.ErrArtifactMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": "Converted file not found"})
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, task.ErrInvalidState):
		msg := strings.TrimPrefix(err.Error(), task.ErrInvalidState.Error()+": ")
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
	case errors.Is(err, task.ErrQueueFull), errors.Is(err, task.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service is busy, try again later"})
	default:
		_ = c.Error(err)
		h.logger.Error("request failed", zap.String(traceIDKey, c.GetString(traceIDKey)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

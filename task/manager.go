package task

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pdfconvapi/config"

	"github.com/c2h5oh/datasize"
	"github.com/go-playground/validator/v10"
	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"
)

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether r starts with the PDF header. It only peeks, so the
// header is still there for the next read.
func IsPDF(r *bufio.Reader) bool {
	head, _ := r.Peek(len(pdfMagic))
	return bytes.Equal(head, pdfMagic)
}

// ConvertRequest is everything a converter needs for one task.
type ConvertRequest struct {
	SourcePath string
	OutputDir  string
	// BaseName is the source file name without extension, used to name outputs.
	BaseName string
	// Pages is nil when every page is selected.
	Pages   []int
	Options Options
}

// Output lists the files a converter produced, relative to Dir.
type Output struct {
	Dir   string
	Files []string
}

// Converter turns a PDF into one target format. Convert blocks until done;
// ctx is cancelled when the task times out or is cancelled.
type Converter interface {
	Convert(ctx context.Context, req ConvertRequest) (*Output, error)
}

// Converters resolves the converter registered for a format.
type Converters interface {
	Lookup(f Format) (Converter, error)
}

// ResourceChecker reports whether the host can take on another conversion.
type ResourceChecker interface {
	Check(dir string) error
}

// Upload is the client's source document.
type Upload struct {
	Reader   io.Reader
	FileName string
}

type Option func(*Manager)

// WithResourceChecker gates every conversion on rc.
func WithResourceChecker(rc ResourceChecker) Option {
	return func(m *Manager) { m.guard = rc }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	cfg        *config.Config
	store      Store
	converters Converters
	guard      ResourceChecker
	pool       *Pool
	logger     *zap.Logger
	validate   *validator.Validate
	running    sync.Map // task id -> context.CancelFunc
	now        func() time.Time
}

func NewManager(cfg *config.Config, store Store, converters Converters, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	m := &Manager{
		cfg:        cfg,
		store:      store,
		converters: converters,
		logger:     logger.Named("manager"),
		validate:   validator.New(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pool = NewPool(cfg.MaxConcurrency, cfg.QueueSize, m.run, logger.Named("pool"))
	return m, nil
}

// Start launches the workers and re-schedules work left by a previous run.
func (m *Manager) Start(ctx context.Context) error {
	m.pool.Start(ctx)
	return m.recover(ctx)
}

// Shutdown stops accepting work and waits for running conversions until ctx
// is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.pool.Shutdown(ctx)
}

// recover fails conversions interrupted by a restart and re-queues pending
// ones.
func (m *Manager) recover(ctx context.Context) error {
	orphaned, err := m.store.ListByStatus(ctx, StatusProcessing)
	if err != nil {
		return fmt.Errorf("list processing tasks: %w", err)
	}
	for _, t := range orphaned {
		if _, err := m.store.Update(ctx, t.ID, failedChange("conversion interrupted by service restart")); err != nil && !errors.Is(err, ErrTerminal) {
			m.logger.Error("failed to mark orphaned task", zap.String("task_id", t.ID), zap.Error(err))
		}
	}

	pending, err := m.store.ListByStatus(ctx, StatusPending)
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}
	requeued := 0
	for _, t := range pending {
		if err := m.pool.Enqueue(t.ID); err != nil {
			m.logger.Warn("could not re-queue pending task", zap.String("task_id", t.ID), zap.Error(err))
			continue
		}
		requeued++
	}
	if len(orphaned) > 0 || requeued > 0 {
		m.logger.Info("recovered tasks", zap.Int("failed", len(orphaned)), zap.Int("requeued", requeued))
	}
	return nil
}

// Submit stores the upload, records a pending task and schedules it. Nothing
// is left on disk or in the store when it returns an error.
func (m *Manager) Submit(ctx context.Context, up Upload, format Format, opts Options) (*Task, error) {
	if !format.Valid() {
		return nil, validationErr("format", "unsupported format %q, expected one of docx, jpeg, ppt, html", format)
	}
	if err := m.validate.Struct(opts); err != nil {
		return nil, optionsError(err)
	}
	if _, err := ParsePageRange(opts.Pages); err != nil {
		return nil, validationErr("pages", "%v", err)
	}

	br := bufio.NewReader(up.Reader)
	if !IsPDF(br) {
		return nil, validationErr("file", "file is not a PDF")
	}

	name := sanitizeFileName(up.FileName)
	id := shortuuid.New()
	dir := m.taskDir(id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(dir)
		}
	}()

	if err := m.saveUpload(filepath.Join(dir, name), br); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	t := &Task{
		ID:             id,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		SourceFileName: name,
		Format:         format,
		Options:        opts,
		ExpiresAt:      now.Add(m.cfg.Retention()),
	}
	if err := m.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	if err := m.pool.Enqueue(id); err != nil {
		if derr := m.store.Delete(context.WithoutCancel(ctx), id); derr != nil {
			m.logger.Error("failed to roll back task record", zap.String("task_id", id), zap.Error(derr))
		}
		return nil, err
	}
	committed = true

	m.logger.Info("task submitted",
		zap.String("task_id", id),
		zap.String("format", string(format)),
		zap.String("file_name", name),
	)
	return t.Clone(), nil
}

func (m *Manager) saveUpload(dst string, r io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	limited := &io.LimitedReader{R: r, N: m.cfg.MaxUploadSize + 1}
	written, err := io.Copy(f, limited)
	if err != nil {
		return fmt.Errorf("write upload: %w", err)
	}
	if written > m.cfg.MaxUploadSize {
		return validationErr("file", "file size exceeds limit of %s", datasize.ByteSize(m.cfg.MaxUploadSize).HumanReadable())
	}
	return f.Sync()
}

// Get returns the current snapshot of a task.
func (m *Manager) Get(ctx context.Context, id string) (*Task, error) {
	return m.store.Get(ctx, id)
}

// Cancel marks a pending or processing task cancelled and signals its
// conversion to stop. The converter may keep running for a while; its result
// is discarded.
func (m *Manager) Cancel(ctx context.Context, id string) (*Task, error) {
	t, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, invalidState("task already %s", t.Status)
	}

	updated, err := m.store.Update(ctx, id, cancelledChange())
	if errors.Is(err, ErrTerminal) {
		// Lost the race against the worker's own terminal transition.
		if cur, gerr := m.store.Get(ctx, id); gerr == nil {
			return nil, invalidState("task already %s", cur.Status)
		}
		return nil, invalidState("task already finished")
	}
	if err != nil {
		return nil, err
	}

	m.Abort(id)
	m.logger.Info("task cancelled", zap.String("task_id", id))
	return updated, nil
}

// Abort cancels the context of a running conversion, if any.
func (m *Manager) Abort(id string) {
	if cancel, ok := m.running.Load(id); ok {
		cancel.(context.CancelFunc)()
	}
}

// Download returns the artifact path of a completed task.
func (m *Manager) Download(ctx context.Context, id string) (string, error) {
	t, err := m.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if t.Status != StatusCompleted {
		return "", invalidState("conversion not completed yet")
	}
	if _, err := os.Stat(t.ResultPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Error("artifact missing for completed task", zap.String("task_id", id), zap.String("path", t.ResultPath))
			return "", fmt.Errorf("%w: %w", ErrNotFound, ErrArtifactMissing)
		}
		return "", err
	}
	return t.ResultPath, nil
}

// run is the worker entry point for one task.
func (m *Manager) run(ctx context.Context, id string) {
	log := m.logger.With(zap.String("task_id", id))
	// Store writes must land even when the worker context is torn down.
	storeCtx := context.WithoutCancel(ctx)

	t, err := m.store.Update(storeCtx, id, progressChange(StatusProcessing, 10))
	switch {
	case errors.Is(err, ErrTerminal), errors.Is(err, ErrNotFound):
		log.Info("task is no longer pending, skipping")
		return
	case err != nil:
		log.Error("failed to start task", zap.Error(err))
		return
	}

	convCtx, cancel := context.WithTimeout(ctx, m.cfg.ConversionTimeout)
	m.running.Store(id, cancel)
	defer func() {
		m.running.Delete(id)
		cancel()
	}()

	started := m.now()
	log.Info("processing task", zap.String("format", string(t.Format)))

	resultPath, err := m.convert(convCtx, storeCtx, t)
	var final Change
	switch {
	case err == nil:
		final = completedChange(resultPath)
	case errors.Is(err, ErrTerminal), errors.Is(err, ErrNotFound):
		log.Info("task finished elsewhere while converting, discarding result")
		return
	case errors.Is(err, ErrTimeout):
		log.Warn("conversion timed out", zap.Duration("timeout", m.cfg.ConversionTimeout))
		final = failedChange(fmt.Sprintf("%v after %s", ErrTimeout, m.cfg.ConversionTimeout))
	case ctx.Err() != nil:
		final = failedChange("conversion aborted by service shutdown")
	default:
		log.Warn("conversion failed", zap.Error(err))
		final = failedChange(err.Error())
	}

	if _, err := m.store.Update(storeCtx, id, final); err != nil {
		if errors.Is(err, ErrTerminal) || errors.Is(err, ErrNotFound) {
			log.Info("late result discarded", zap.String("status", string(final.Status)))
			return
		}
		log.Error("failed to record task result", zap.Error(err))
		return
	}
	log.Info("task finished", zap.String("status", string(final.Status)), zap.Duration("elapsed", m.now().Sub(started)))
}

func (m *Manager) convert(ctx, storeCtx context.Context, t *Task) (string, error) {
	if m.guard != nil {
		if err := m.guard.Check(m.cfg.WorkDir); err != nil {
			return "", NewConversionError(t.Format, fmt.Errorf("insufficient system resources: %w", err))
		}
	}

	conv, err := m.converters.Lookup(t.Format)
	if err != nil {
		return "", err
	}
	pages, err := ParsePageRange(t.Options.Pages)
	if err != nil {
		return "", NewConversionError(t.Format, err)
	}

	dir := m.taskDir(t.ID)
	outDir := filepath.Join(dir, "output")
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	if _, err := m.store.Update(storeCtx, t.ID, progressChange(StatusProcessing, 30)); err != nil {
		return "", err
	}

	base := baseName(t.SourceFileName)
	out, err := m.race(ctx, conv, t.Format, ConvertRequest{
		SourcePath: filepath.Join(dir, t.SourceFileName),
		OutputDir:  outDir,
		BaseName:   base,
		Pages:      pages,
		Options:    t.Options,
	})
	if err != nil {
		return "", err
	}

	if _, err := m.store.Update(storeCtx, t.ID, progressChange(StatusProcessing, 90)); err != nil {
		return "", err
	}
	return m.finalize(t.Format, dir, base, out)
}

type convResult struct {
	out *Output
	err error
}

// race runs the converter against ctx's deadline. When the deadline wins
// the converter goroutine is left behind; its result is dropped.
func (m *Manager) race(ctx context.Context, conv Converter, format Format, req ConvertRequest) (*Output, error) {
	done := make(chan convResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- convResult{err: NewConversionError(format, fmt.Errorf("converter panicked: %v", r))}
			}
		}()
		out, err := conv.Convert(ctx, req)
		done <- convResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.out, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		var ce *ConversionError
		if !errors.As(r.err, &ce) {
			r.err = NewConversionError(format, r.err)
		}
		return nil, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// finalize turns converter output into the single artifact recorded on the
// task, zipping multi-file results.
func (m *Manager) finalize(format Format, dir, base string, out *Output) (string, error) {
	if out == nil || len(out.Files) == 0 {
		return "", NewConversionError(format, errors.New("converter produced no output"))
	}
	if len(out.Files) == 1 {
		path := filepath.Join(out.Dir, out.Files[0])
		if _, err := os.Stat(path); err != nil {
			return "", NewConversionError(format, fmt.Errorf("output file missing: %w", err))
		}
		return path, nil
	}

	archive := filepath.Join(dir, base+".zip")
	if err := writeArchive(archive, out.Dir, out.Files); err != nil {
		return "", NewConversionError(format, fmt.Errorf("package results: %w", err))
	}
	return archive, nil
}

func (m *Manager) taskDir(id string) string {
	return filepath.Join(m.cfg.WorkDir, id)
}

// sanitizeFileName keeps the base name of an uploaded file and replaces
// anything outside a conservative character set.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimLeft(name, ".")
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "document.pdf"
	}
	return b.String()
}

func baseName(fileName string) string {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if base == "" {
		return "document"
	}
	return base
}

func optionsError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Field() {
		case "DPI":
			field = "dpi"
		case "PreserveLayout":
			field = "preserve_layout"
		}
		return validationErr(field, "must satisfy %s=%s, got %v", fe.Tag(), fe.Param(), fe.Value())
	}
	return validationErr("options", "%v", err)
}

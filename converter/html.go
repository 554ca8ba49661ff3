package converter

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"pdfconvapi/task"

	"go.uber.org/zap"
)

// HTML produces an HTML document plus whatever image assets the tool
// extracts. With preserve_layout the document uses absolute positioning.
type HTML struct {
	tpl    *Template
	logger *zap.Logger
}

func NewHTML(tpl *Template, logger *zap.Logger) *HTML {
	return &HTML{tpl: tpl, logger: logger.Named("html")}
}

func (h *HTML) Available() bool { return available(h.tpl) }

func (h *HTML) Convert(ctx context.Context, req task.ConvertRequest) (*task.Output, error) {
	scratch, err := scratchDir(req.OutputDir)
	if err != nil {
		return nil, task.NewConversionError(task.FormatHTML, err)
	}
	input := filepath.Join(scratch, req.BaseName+".pdf")
	if err := selectPages(req.SourcePath, input, req.Pages); err != nil {
		return nil, task.NewConversionError(task.FormatHTML, err)
	}

	layout := ""
	if req.Options.PreserveLayout {
		layout = "-c"
	}
	args := h.tpl.Expand(map[string]string{
		PlaceholderInput:   input,
		PlaceholderOutDir:  req.OutputDir,
		PlaceholderOutBase: filepath.Join(req.OutputDir, req.BaseName),
		PlaceholderTmpDir:  scratch,
		PlaceholderLayout:  layout,
	})
	if err := run(ctx, h.logger, scratch, args); err != nil {
		return nil, task.NewConversionError(task.FormatHTML, err)
	}

	files, err := collectFiles(req.OutputDir)
	if err != nil {
		return nil, task.NewConversionError(task.FormatHTML, err)
	}
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f))
		if ext == ".html" || ext == ".htm" {
			return &task.Output{Dir: req.OutputDir, Files: files}, nil
		}
	}
	return nil, task.NewConversionError(task.FormatHTML, errors.New("no HTML document was produced"))
}

package converter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"pdfconvapi/task"

	"go.uber.org/zap"
)

// Office converts through an office suite's PDF import filter. It serves
// both DOCX and PPTX; only the filter and the target extension differ.
type Office struct {
	format task.Format
	ext    string
	filter string
	tpl    *Template
	logger *zap.Logger
}

func NewDOCX(tpl *Template, filter string, logger *zap.Logger) *Office {
	return &Office{format: task.FormatDOCX, ext: "docx", filter: filter, tpl: tpl, logger: logger.Named("docx")}
}

func NewPPT(tpl *Template, filter string, logger *zap.Logger) *Office {
	return &Office{format: task.FormatPPT, ext: "pptx", filter: filter, tpl: tpl, logger: logger.Named("ppt")}
}

func (o *Office) Available() bool { return available(o.tpl) }

func (o *Office) Convert(ctx context.Context, req task.ConvertRequest) (*task.Output, error) {
	scratch, err := scratchDir(req.OutputDir)
	if err != nil {
		return nil, task.NewConversionError(o.format, err)
	}
	// The suite names its output after the input file.
	input := filepath.Join(scratch, req.BaseName+".pdf")
	if err := selectPages(req.SourcePath, input, req.Pages); err != nil {
		return nil, task.NewConversionError(o.format, err)
	}

	args := o.tpl.Expand(map[string]string{
		PlaceholderInput:  input,
		PlaceholderOutDir: req.OutputDir,
		PlaceholderTmpDir: scratch,
		PlaceholderFilter: o.filter,
		PlaceholderExt:    o.ext,
	})
	if err := run(ctx, o.logger, scratch, args); err != nil {
		return nil, task.NewConversionError(o.format, err)
	}

	files, err := collectFiles(req.OutputDir)
	if err != nil {
		return nil, task.NewConversionError(o.format, err)
	}
	var produced []string
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), "."+o.ext) {
			produced = append(produced, f)
		}
	}
	if len(produced) != 1 {
		return nil, task.NewConversionError(o.format, fmt.Errorf("expected one .%s file, found %d", o.ext, len(produced)))
	}
	return &task.Output{Dir: req.OutputDir, Files: produced}, nil
}

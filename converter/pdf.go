package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// ErrInvalidPDF is returned by Inspect for documents pdfcpu cannot validate.
var ErrInvalidPDF = errors.New("invalid PDF")

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func pageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("read PDF: %w", err)
	}
	return n, nil
}

func checkPages(pages []int, count int) error {
	for _, p := range pages {
		if p > count {
			return fmt.Errorf("unsupported page range: page %d exceeds the document's %d pages", p, count)
		}
	}
	return nil
}

// selectPages writes the selected pages of src to dst. With no selection
// dst is a link to src.
func selectPages(src, dst string, pages []int) error {
	if len(pages) == 0 {
		return linkOrCopy(src, dst)
	}
	n, err := pageCount(src)
	if err != nil {
		return err
	}
	if err := checkPages(pages, n); err != nil {
		return err
	}

	selected := make([]string, len(pages))
	for i, p := range pages {
		selected[i] = strconv.Itoa(p)
	}
	if err := api.TrimFile(src, dst, selected, pdfConfig()); err != nil {
		return fmt.Errorf("select pages: %w", err)
	}
	return nil
}

// Info summarises a PDF without converting it.
type Info struct {
	PageCount  int
	Title      string
	Author     string
	Subject    string
	HasText    bool
	ImageCount int
}

// Inspector examines uploaded PDFs using pdfcpu.
type Inspector struct {
	scratchRoot string
	logger      *zap.Logger
}

func NewInspector(scratchRoot string, logger *zap.Logger) *Inspector {
	return &Inspector{scratchRoot: scratchRoot, logger: logger.Named("inspector")}
}

var textOperator = regexp.MustCompile(`\bT[jJ]\b`)

// Inspect validates the PDF at path and reports its page count, metadata
// and whether it carries text or images.
func (in *Inspector) Inspect(ctx context.Context, path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pdfCtx, err := api.ReadContext(f, pdfConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	info := &Info{
		PageCount: pdfCtx.PageCount,
		Title:     pdfCtx.Title,
		Author:    pdfCtx.Author,
		Subject:   pdfCtx.Subject,
	}
	if info.PageCount == 0 {
		if info.PageCount, err = pageCount(path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp(in.scratchRoot, "inspect-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)

	info.HasText = in.hasText(path, filepath.Join(scratch, "content"))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info.ImageCount = in.countImages(path, filepath.Join(scratch, "images"))
	return info, nil
}

// hasText looks for text-showing operators in the extracted page content.
func (in *Inspector) hasText(path, dir string) bool {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false
	}
	if err := api.ExtractContentFile(path, dir, nil, pdfConfig()); err != nil {
		in.logger.Debug("content extraction failed", zap.Error(err))
		return false
	}
	files, err := collectFiles(dir)
	if err != nil {
		return false
	}
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil && textOperator.Match(data) {
			return true
		}
	}
	return false
}

func (in *Inspector) countImages(path, dir string) int {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0
	}
	if err := api.ExtractImagesFile(path, dir, nil, pdfConfig()); err != nil {
		in.logger.Debug("image extraction failed", zap.Error(err))
		return 0
	}
	files, err := collectFiles(dir)
	if err != nil {
		return 0
	}
	return len(files)
}

package converter

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"pdfconvapi/task"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JPEG renders each selected page to PNG with the raster command and
// re-encodes it at the requested quality. Pages render concurrently.
type JPEG struct {
	tpl         *Template
	parallelism int
	logger      *zap.Logger
}

func NewJPEG(tpl *Template, parallelism int, logger *zap.Logger) *JPEG {
	if parallelism < 1 {
		parallelism = 1
	}
	return &JPEG{tpl: tpl, parallelism: parallelism, logger: logger.Named("jpeg")}
}

func (j *JPEG) Available() bool { return available(j.tpl) }

func (j *JPEG) Convert(ctx context.Context, req task.ConvertRequest) (*task.Output, error) {
	count, err := pageCount(req.SourcePath)
	if err != nil {
		return nil, task.NewConversionError(task.FormatJPEG, err)
	}
	pages := req.Pages
	if len(pages) == 0 {
		pages = make([]int, count)
		for i := range pages {
			pages[i] = i + 1
		}
	} else if err := checkPages(pages, count); err != nil {
		return nil, task.NewConversionError(task.FormatJPEG, err)
	}

	scratch, err := scratchDir(req.OutputDir)
	if err != nil {
		return nil, task.NewConversionError(task.FormatJPEG, err)
	}

	files := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.parallelism)
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			png, err := j.rasterize(gctx, req, scratch, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			name := fmt.Sprintf("%s_page_%d.jpg", req.BaseName, page)
			if err := encodeJPEG(png, filepath.Join(req.OutputDir, name), req.Options.Quality); err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			files[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, task.NewConversionError(task.FormatJPEG, err)
	}
	return &task.Output{Dir: req.OutputDir, Files: files}, nil
}

func (j *JPEG) rasterize(ctx context.Context, req task.ConvertRequest, scratch string, page int) (string, error) {
	outBase := filepath.Join(scratch, fmt.Sprintf("page-%d", page))
	args := j.tpl.Expand(map[string]string{
		PlaceholderInput:   req.SourcePath,
		PlaceholderOutDir:  scratch,
		PlaceholderOutBase: outBase,
		PlaceholderTmpDir:  scratch,
		PlaceholderDPI:     strconv.Itoa(req.Options.DPI),
		PlaceholderPage:    strconv.Itoa(page),
	})
	if err := run(ctx, j.logger, scratch, args); err != nil {
		return "", err
	}
	return outBase + ".png", nil
}

func encodeJPEG(src, dst string, quality int) error {
	img, err := imaging.Open(src)
	if err != nil {
		return fmt.Errorf("open rendered page: %w", err)
	}
	if err := imaging.Save(img, dst, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}

package converter

import (
	"context"
	"errors"
	"testing"

	"pdfconvapi/config"
	"pdfconvapi/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConverter struct {
	available bool
}

func (f *fakeConverter) Convert(ctx context.Context, req task.ConvertRequest) (*task.Output, error) {
	return &task.Output{Dir: req.OutputDir, Files: []string{"out.docx"}}, nil
}

func (f *fakeConverter) Available() bool { return f.available }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(task.FormatDOCX, &fakeConverter{available: true})
	r.Register(task.FormatJPEG, &fakeConverter{available: false})

	t.Run("lookup registered format", func(t *testing.T) {
		c, err := r.Lookup(task.FormatDOCX)
		require.NoError(t, err)
		assert.NotNil(t, c)
	})

	t.Run("lookup unregistered format", func(t *testing.T) {
		_, err := r.Lookup(task.FormatPPT)
		var ce *task.ConversionError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, task.FormatPPT, ce.Format)
	})

	t.Run("capabilities cover every format in order", func(t *testing.T) {
		caps := r.Capabilities()
		require.Len(t, caps, 4)
		names := []string{caps[0].Name, caps[1].Name, caps[2].Name, caps[3].Name}
		assert.Equal(t, []string{"docx", "jpeg", "ppt", "html"}, names)

		assert.True(t, caps[0].Available)
		assert.False(t, caps[1].Available)
		assert.False(t, caps[2].Available, "unregistered formats are unavailable")

		var opts []string
		for _, o := range caps[1].Options {
			opts = append(opts, o.Name)
		}
		assert.Equal(t, []string{"pages", "quality", "dpi"}, opts)
	})
}

func TestNewDefaultRegistry(t *testing.T) {
	cfg := &config.Config{
		OfficeCommand:   "soffice --infilter=${FILTER} --convert-to ${EXT} --outdir ${OUTDIR} ${INPUT}",
		DocxFilter:      "writer_pdf_import",
		PPTFilter:       "impress_pdf_import",
		HTMLCommand:     "pdftohtml ${LAYOUT} ${INPUT} ${OUTBASE}",
		RasterCommand:   "pdftoppm -png -r ${DPI} -f ${PAGE} -l ${PAGE} ${INPUT} ${OUTBASE}",
		JPEGParallelism: 2,
	}

	r, err := NewDefaultRegistry(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	for _, f := range task.Formats {
		_, err := r.Lookup(f)
		assert.NoError(t, err, f)
	}

	cfg.HTMLCommand = "pdftohtml out.html"
	_, err = NewDefaultRegistry(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTML_COMMAND")
}

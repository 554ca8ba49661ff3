package converter

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"pdfconvapi/task"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

// newRequest lays out a task directory the way the manager does.
func newRequest(t *testing.T) task.ConvertRequest {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4\n% fake\n"), 0o600))
	out := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(out, 0o750))
	return task.ConvertRequest{
		SourcePath: src,
		OutputDir:  out,
		BaseName:   "report",
		Options:    task.DefaultOptions(),
	}
}

func TestOfficeConvert(t *testing.T) {
	requireBinary(t, "cp")
	tpl, err := ParseTemplate(`cp ${INPUT} ${OUTDIR}/converted.${EXT}`)
	require.NoError(t, err)

	t.Run("docx", func(t *testing.T) {
		req := newRequest(t)
		out, err := NewDOCX(tpl, "writer_pdf_import", zaptest.NewLogger(t)).Convert(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, req.OutputDir, out.Dir)
		assert.Equal(t, []string{"converted.docx"}, out.Files)
	})

	t.Run("ppt", func(t *testing.T) {
		req := newRequest(t)
		out, err := NewPPT(tpl, "impress_pdf_import", zaptest.NewLogger(t)).Convert(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, []string{"converted.pptx"}, out.Files)
	})

	t.Run("tool failure is a conversion error", func(t *testing.T) {
		requireBinary(t, "false")
		failing, err := ParseTemplate(`false ${INPUT}`)
		require.NoError(t, err)

		_, err = NewDOCX(failing, "writer_pdf_import", zaptest.NewLogger(t)).Convert(context.Background(), newRequest(t))
		var ce *task.ConversionError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, task.FormatDOCX, ce.Format)
	})

	t.Run("missing output is a conversion error", func(t *testing.T) {
		requireBinary(t, "true")
		noop, err := ParseTemplate(`true ${INPUT}`)
		require.NoError(t, err)

		_, err = NewPPT(noop, "impress_pdf_import", zaptest.NewLogger(t)).Convert(context.Background(), newRequest(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected one .pptx file, found 0")
	})
}

func TestHTMLConvert(t *testing.T) {
	requireBinary(t, "cp")
	tpl, err := ParseTemplate(`cp ${LAYOUT} ${INPUT} ${OUTBASE}.html`)
	require.NoError(t, err)

	req := newRequest(t)
	req.Options.PreserveLayout = false
	out, err := NewHTML(tpl, zaptest.NewLogger(t)).Convert(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"report.html"}, out.Files)
}

func TestCommandIsKilledWithContext(t *testing.T) {
	requireBinary(t, "sleep")
	tpl, err := ParseTemplate(`sleep 30 ${INPUT}`)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewDOCX(tpl, "writer_pdf_import", zaptest.NewLogger(t)).Convert(ctx, newRequest(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJPEGRejectsUnreadablePDF(t *testing.T) {
	tpl, err := ParseTemplate(`pdftoppm -png ${INPUT} ${OUTBASE}`)
	require.NoError(t, err)

	_, err = NewJPEG(tpl, 2, zaptest.NewLogger(t)).Convert(context.Background(), newRequest(t))
	var ce *task.ConversionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, task.FormatJPEG, ce.Format)
}

func TestEncodeJPEG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "page-1.png")
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 12), B: 90, A: 255})
		}
	}
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	dst := filepath.Join(dir, "report_page_1.jpg")
	require.NoError(t, encodeJPEG(src, dst, 75))

	decoded, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Equal(t, 40, decoded.Bounds().Dx())
	assert.Equal(t, 20, decoded.Bounds().Dy())

	assert.Error(t, encodeJPEG(filepath.Join(dir, "missing.png"), dst, 75))
}

func TestCheckPages(t *testing.T) {
	assert.NoError(t, checkPages([]int{1, 2, 3}, 3))
	err := checkPages([]int{2, 4}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported page range")
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "report_files"), 0o750))
	for _, name := range []string{"report.html", "report_files/img-1.png", "report_files/img-0.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o600))
	}

	files, err := collectFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"report.html", filepath.Join("report_files", "img-0.png"), filepath.Join("report_files", "img-1.png")}, files)
}

func TestRunReportsOutputTail(t *testing.T) {
	requireBinary(t, "ls")
	err := run(context.Background(), zaptest.NewLogger(t), t.TempDir(), []string{"ls", "/definitely/not/here"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ls failed")
}

package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemplate(t *testing.T) {
	t.Run("valid command", func(t *testing.T) {
		tpl, err := ParseTemplate(`pdftoppm -png -r ${DPI} -f ${PAGE} -l ${PAGE} ${INPUT} ${OUTBASE}`)
		require.NoError(t, err)
		assert.Equal(t, "pdftoppm", tpl.Binary())
	})

	t.Run("quoted arguments stay whole", func(t *testing.T) {
		tpl, err := ParseTemplate(`soffice --convert-to "docx:MS Word 2007 XML" ${INPUT}`)
		require.NoError(t, err)
		args := tpl.Expand(map[string]string{PlaceholderInput: "/tmp/in.pdf"})
		assert.Equal(t, []string{"soffice", "--convert-to", "docx:MS Word 2007 XML", "/tmp/in.pdf"}, args)
	})

	t.Run("missing input placeholder", func(t *testing.T) {
		_, err := ParseTemplate(`pdftoppm -png somefile.pdf out`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must include the input placeholder")
	})

	t.Run("disallowed character (semicolon)", func(t *testing.T) {
		_, err := ParseTemplate(`pdftohtml ${INPUT}; rm -rf /`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: ${INPUT};")
	})

	t.Run("disallowed character (dollar)", func(t *testing.T) {
		_, err := ParseTemplate(`pdftohtml ${INPUT} $(whoami)`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: $(whoami)")
	})

	t.Run("unknown placeholder is rejected", func(t *testing.T) {
		_, err := ParseTemplate(`pdftohtml ${INPUT} ${HOME}`)
		assert.Error(t, err)
	})

	t.Run("unbalanced quotes", func(t *testing.T) {
		_, err := ParseTemplate(`pdftohtml "${INPUT}`)
		assert.Error(t, err)
	})
}

func TestTemplateExpand(t *testing.T) {
	tpl, err := ParseTemplate(`pdftohtml -q ${LAYOUT} ${INPUT} ${OUTBASE}`)
	require.NoError(t, err)

	t.Run("empty values drop the argument", func(t *testing.T) {
		args := tpl.Expand(map[string]string{
			PlaceholderInput:   "/work/a b.pdf",
			PlaceholderOutBase: "/work/out/a",
			PlaceholderLayout:  "",
		})
		assert.Equal(t, []string{"pdftohtml", "-q", "/work/a b.pdf", "/work/out/a"}, args)
	})

	t.Run("flag is kept when set", func(t *testing.T) {
		args := tpl.Expand(map[string]string{
			PlaceholderInput:   "/in.pdf",
			PlaceholderOutBase: "/out",
			PlaceholderLayout:  "-c",
		})
		assert.Equal(t, []string{"pdftohtml", "-q", "-c", "/in.pdf", "/out"}, args)
	})

	t.Run("embedded placeholders", func(t *testing.T) {
		office, err := ParseTemplate(`soffice --infilter=${FILTER} --convert-to ${EXT} ${INPUT}`)
		require.NoError(t, err)
		args := office.Expand(map[string]string{
			PlaceholderInput:  "/in.pdf",
			PlaceholderFilter: "writer_pdf_import",
			PlaceholderExt:    "docx",
		})
		assert.Equal(t, []string{"soffice", "--infilter=writer_pdf_import", "--convert-to", "docx", "/in.pdf"}, args)
	})
}

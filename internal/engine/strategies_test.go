package engine

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docspark/api/internal/model"
)

const fakePandoc = `out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
printf 'pandoc output' > "$out"
`

const fakeOffice = `outdir=""; filter=""; in=""
while [ $# -gt 0 ]; do
  case "$1" in
    --outdir) outdir="$2"; shift ;;
    --convert-to) filter="$2"; shift ;;
    -*) ;;
    *) in="$1" ;;
  esac
  shift
done
ext="${filter%%:*}"
base="$(basename "$in")"
printf 'office output' > "$outdir/${base%.*}.$ext"
`

const fakeBrowser = `for arg in "$@"; do
  case "$arg" in
    --print-to-pdf=*) printf '%%PDF-1.7' > "${arg#--print-to-pdf=}" ;;
  esac
done
`

func TestPassthroughIsByteIdentical(t *testing.T) {
	content := "col1,col2\n1,2\n\x00binary"
	in := writeInput(t, "in.csv", content)
	out := outputPath(t, "out.txt")

	err := Passthrough{}.Attempt(context.Background(), Request{InputPath: in, OutputPath: out, Source: model.FormatCSV, Target: model.FormatTXT})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestPassthroughNotApplicable(t *testing.T) {
	err := Passthrough{}.Attempt(context.Background(), Request{Source: model.FormatTXT, Target: model.FormatPDF})
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestTextToHTML(t *testing.T) {
	got := TextToHTML("Tom & Jerry <3\n> quoted")
	assert.True(t, strings.HasPrefix(got, "<!doctype html>"))
	assert.Contains(t, got, "<pre>Tom &amp; Jerry &lt;3\n&gt; quoted</pre>")
}

func TestHTMLToText(t *testing.T) {
	doc := `<!doctype html>
<html><head><title>Ignored</title><style>p { color: red }</style></head>
<body>
  <h1>Quarterly   Report</h1>
  <script>alert("x")</script>
  <p>First&nbsp;line &amp; more</p>
  <ul><li>one</li><li>two</li></ul>
  line<br>break
</body></html>`

	got := HTMLToText(strings.NewReader(doc))
	assert.Equal(t, "Quarterly Report\nFirst line & more\none\ntwo\nline\nbreak\n", got)
}

func TestHTMLToTextUnclosedHead(t *testing.T) {
	got := HTMLToText(strings.NewReader("<head><title>t</title><body><p>kept</p>"))
	assert.Equal(t, "kept\n", got)
}

func TestTextTransformDirections(t *testing.T) {
	ctx := context.Background()

	out := outputPath(t, "out.txt")
	require.NoError(t, TextTransform{}.Attempt(ctx, Request{
		InputPath: writeInput(t, "in.html", "<p>a</p><p>b</p>"), OutputPath: out,
		Source: model.FormatHTML, Target: model.FormatTXT,
	}))
	data, _ := os.ReadFile(out)
	assert.Equal(t, "a\nb\n", string(data))

	err := TextTransform{}.Attempt(ctx, Request{Source: model.FormatMD, Target: model.FormatHTML})
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestDocumentCLIWithFakePandoc(t *testing.T) {
	bin := writeScript(t, "pandoc", fakePandoc)
	d := NewDocumentCLI(bin, 5*time.Second)

	out := outputPath(t, "out.md")
	require.NoError(t, d.Attempt(context.Background(), Request{
		InputPath: writeInput(t, "in.docx", "PK"), OutputPath: out,
		Source: model.FormatDOCX, Target: model.FormatMD,
	}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "pandoc output", string(data))
}

func TestDocumentCLINotApplicable(t *testing.T) {
	d := NewDocumentCLI("pandoc", time.Second)
	assert.ErrorIs(t, d.Attempt(context.Background(), Request{Source: model.FormatPDF, Target: model.FormatTXT}), ErrNotApplicable)
	assert.ErrorIs(t, d.Attempt(context.Background(), Request{Source: model.FormatDOCX, Target: model.FormatCSV}), ErrNotApplicable)
}

func TestDocumentCLIDiagnostics(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		code    string
	}{
		{"timeout", "exec sleep 5\n", 200 * time.Millisecond, CodeTimedOut},
		{"exit status", "echo 'unknown reader' >&2\nexit 3\n", 5 * time.Second, CodeExited},
		{"no output", "exit 0\n", 5 * time.Second, CodeNoOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDocumentCLI(writeScript(t, "pandoc", tt.script), tt.timeout)
			err := d.Attempt(context.Background(), Request{
				InputPath: writeInput(t, "in.html", "<p>x</p>"), OutputPath: outputPath(t, "out.docx"),
				Source: model.FormatHTML, Target: model.FormatDOCX,
			})

			var engineErr *Error
			require.ErrorAs(t, err, &engineErr)
			assert.Equal(t, tt.code, engineErr.Code)
			assert.Equal(t, documentCLIName, engineErr.Engine)
		})
	}
}

func TestOfficeSuiteWithFakeSoffice(t *testing.T) {
	o := NewOfficeSuite(writeScript(t, "soffice", fakeOffice), 5*time.Second)

	out := outputPath(t, "final.pdf")
	require.NoError(t, o.Attempt(context.Background(), Request{
		InputPath: writeInput(t, "letter.rtf", "{\\rtf1}"), OutputPath: out,
		Source: model.FormatRTF, Target: model.FormatPDF,
	}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "office output", string(data))
}

func TestOfficeSuiteMissingOutput(t *testing.T) {
	o := NewOfficeSuite(writeScript(t, "soffice", "exit 0\n"), 5*time.Second)

	err := o.Attempt(context.Background(), Request{
		InputPath: writeInput(t, "letter.docx", "PK"), OutputPath: outputPath(t, "final.pdf"),
		Source: model.FormatDOCX, Target: model.FormatPDF,
	})
	assert.EqualError(t, err, "office engine produced no output")
}

func TestOfficeSuiteNotApplicable(t *testing.T) {
	o := NewOfficeSuite("soffice", time.Second)
	assert.ErrorIs(t, o.Attempt(context.Background(), Request{Source: model.FormatDOCX, Target: model.FormatMD}), ErrNotApplicable)
	assert.ErrorIs(t, o.Attempt(context.Background(), Request{Source: model.FormatCSV, Target: model.FormatDOCX}), ErrNotApplicable)
}

func TestRendererFallsBackToBrowser(t *testing.T) {
	browser := writeScript(t, "chromium", fakeBrowser)
	r := NewRenderer("docspark-test-missing-shell", browser, 5*time.Second)

	out := outputPath(t, "out.pdf")
	require.NoError(t, r.Attempt(context.Background(), Request{
		InputPath: writeInput(t, "in.md", "# Title"), OutputPath: out,
		Source: model.FormatMD, Target: model.FormatPDF,
	}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
}

func TestRendererUnavailable(t *testing.T) {
	r := NewRenderer("docspark-test-missing-shell", "docspark-test-missing-browser", time.Second)

	err := r.RenderHTML(context.Background(), "<p>x</p>", outputPath(t, "out.pdf"))
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, CodeUnavailable, engineErr.Code)
	assert.Equal(t, "renderer unavailable", err.Error())
}

func TestRendererNotApplicable(t *testing.T) {
	r := NewRenderer("x", "y", time.Second)
	assert.ErrorIs(t, r.Attempt(context.Background(), Request{Source: model.FormatDOCX, Target: model.FormatPDF}), ErrNotApplicable)
	assert.ErrorIs(t, r.Attempt(context.Background(), Request{Source: model.FormatHTML, Target: model.FormatTXT}), ErrNotApplicable)
}

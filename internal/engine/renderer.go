package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/docspark/api/internal/model"
)

const rendererName = "renderer"

var defaultBrowsers = []string{"chromium", "chromium-browser", "google-chrome"}

// Renderer prints HTML to PDF with a headless Chromium. It first tries the
// sandboxed headless shell binary, then a locally installed browser.
type Renderer struct {
	shellBin    string
	browserBins []string
	timeout     time.Duration
}

func NewRenderer(shellBin, browserBin string, timeout time.Duration) *Renderer {
	browsers := defaultBrowsers
	if browserBin != "" {
		browsers = []string{browserBin}
	}
	return &Renderer{shellBin: shellBin, browserBins: browsers, timeout: timeout}
}

func (r *Renderer) Name() string { return rendererName }

func (r *Renderer) Attempt(ctx context.Context, req Request) error {
	if req.Target != model.FormatPDF {
		return ErrNotApplicable
	}
	switch req.Source {
	case model.FormatHTML:
		return r.render(ctx, req.InputPath, req.OutputPath)
	case model.FormatTXT, model.FormatMD:
		text, err := os.ReadFile(req.InputPath)
		if err != nil {
			return &Error{Engine: rendererName, Code: CodeExited, Err: errors.Wrap(err, "read input")}
		}
		return r.RenderHTML(ctx, TextToHTML(string(text)), req.OutputPath)
	default:
		return ErrNotApplicable
	}
}

// RenderHTML writes html to a scratch file and prints it to out.
func (r *Renderer) RenderHTML(ctx context.Context, html, out string) error {
	tmp, err := os.CreateTemp("", "docspark-render-*.html")
	if err != nil {
		return &Error{Engine: rendererName, Code: CodeUnavailable, Err: errors.Wrap(err, "create scratch file")}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(html); err != nil {
		_ = tmp.Close()
		return &Error{Engine: rendererName, Code: CodeUnavailable, Err: errors.Wrap(err, "write scratch file")}
	}
	if err := tmp.Close(); err != nil {
		return &Error{Engine: rendererName, Code: CodeUnavailable, Err: err}
	}
	return r.render(ctx, tmp.Name(), out)
}

func (r *Renderer) render(ctx context.Context, htmlPath, out string) error {
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return &Error{Engine: rendererName, Code: CodeUnavailable, Err: err}
	}
	args := []string{"--headless", "--disable-gpu", "--print-to-pdf=" + out, "file://" + abs}

	var errs error
	for _, bin := range []string{r.shellBin, r.browser()} {
		if bin == "" {
			continue
		}
		err := runTool(ctx, rendererName, bin, r.timeout, args...)
		if err == nil {
			err = checkOutput(rendererName, out)
		}
		if err == nil {
			return nil
		}
		errs = errors.CombineErrors(errs, errors.Wrap(err, bin))
		_ = os.Remove(out)
	}
	if errs == nil {
		errs = errors.New("no renderer configured")
	}
	return &Error{Engine: rendererName, Code: CodeUnavailable, Err: errs}
}

// browser returns the first configured browser found on PATH, or the first
// candidate so the not-installed diagnostic names it.
func (r *Renderer) browser() string {
	for _, bin := range r.browserBins {
		if _, err := exec.LookPath(bin); err == nil {
			return bin
		}
	}
	if len(r.browserBins) > 0 {
		return r.browserBins[0]
	}
	return ""
}

package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/docspark/api/internal/model"
)

const officeName = "office engine"

// LibreOffice export filters by target format.
var officeFilters = map[model.Format]string{
	model.FormatPDF:  "pdf:writer_pdf_Export",
	model.FormatDOCX: "docx:MS Word 2007 XML",
	model.FormatTXT:  "txt:Text (encoded):UTF8",
	model.FormatHTML: "html:XHTML Writer File:UTF8",
	model.FormatRTF:  "rtf:Rich Text Format",
}

// OfficeSuite converts through a headless LibreOffice.
type OfficeSuite struct {
	bin     string
	timeout time.Duration
}

func NewOfficeSuite(bin string, timeout time.Duration) *OfficeSuite {
	return &OfficeSuite{bin: bin, timeout: timeout}
}

func (o *OfficeSuite) Name() string { return officeName }

func (o *OfficeSuite) Attempt(ctx context.Context, req Request) error {
	filter, ok := officeFilters[req.Target]
	if !ok {
		return ErrNotApplicable
	}
	if req.Source == model.FormatCSV {
		// spreadsheets only export to pdf here
		if req.Target != model.FormatPDF {
			return ErrNotApplicable
		}
		filter = "pdf:calc_pdf_Export"
	}

	tmp, err := os.MkdirTemp("", "docspark-office-*")
	if err != nil {
		return &Error{Engine: officeName, Code: CodeExited, Err: errors.Wrap(err, "create scratch dir")}
	}
	defer os.RemoveAll(tmp)

	args := []string{
		"--headless",
		// a private profile lets several conversions run at once
		"-env:UserInstallation=file://" + filepath.Join(tmp, "profile"),
	}
	if req.Source == model.FormatPDF {
		args = append(args, "--infilter=writer_pdf_import")
	}
	args = append(args, "--convert-to", filter, "--outdir", tmp, req.InputPath)

	if err := runTool(ctx, officeName, o.bin, o.timeout, args...); err != nil {
		return err
	}

	base := strings.TrimSuffix(filepath.Base(req.InputPath), filepath.Ext(req.InputPath))
	produced := filepath.Join(tmp, base+"."+string(req.Target))
	if err := checkOutput(officeName, produced); err != nil {
		return err
	}
	if err := copyFile(produced, req.OutputPath); err != nil {
		return &Error{Engine: officeName, Code: CodeExited, Err: errors.Wrap(err, "copy output")}
	}
	return nil
}

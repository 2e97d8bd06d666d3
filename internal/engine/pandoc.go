package engine

import (
	"context"
	"time"

	"github.com/docspark/api/internal/model"
)

const documentCLIName = "CLI engine"

// pandoc reader names by source format. Plain text is read as markdown.
var pandocReaders = map[model.Format]string{
	model.FormatDOCX: "docx",
	model.FormatHTML: "html",
	model.FormatMD:   "markdown",
	model.FormatTXT:  "markdown",
	model.FormatRTF:  "rtf",
	model.FormatCSV:  "csv",
}

// pandoc writer names by target format. PDF is chosen from the output
// extension and needs no explicit writer.
var pandocWriters = map[model.Format]string{
	model.FormatPDF:  "",
	model.FormatDOCX: "docx",
	model.FormatHTML: "html",
	model.FormatMD:   "markdown",
	model.FormatTXT:  "plain",
	model.FormatRTF:  "rtf",
}

// DocumentCLI converts through pandoc.
type DocumentCLI struct {
	bin     string
	timeout time.Duration
}

func NewDocumentCLI(bin string, timeout time.Duration) *DocumentCLI {
	return &DocumentCLI{bin: bin, timeout: timeout}
}

func (d *DocumentCLI) Name() string { return documentCLIName }

func (d *DocumentCLI) Attempt(ctx context.Context, req Request) error {
	reader, ok := pandocReaders[req.Source]
	if !ok {
		return ErrNotApplicable
	}
	writer, ok := pandocWriters[req.Target]
	if !ok {
		return ErrNotApplicable
	}

	args := []string{req.InputPath, "-f", reader}
	if writer != "" {
		args = append(args, "-t", writer)
	}
	args = append(args, "-o", req.OutputPath)

	if err := runTool(ctx, documentCLIName, d.bin, d.timeout, args...); err != nil {
		return err
	}
	return checkOutput(documentCLIName, req.OutputPath)
}

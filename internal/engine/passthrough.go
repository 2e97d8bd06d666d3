package engine

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Passthrough copies the input unchanged when no transformation is needed:
// same format, or both sides in the plain-text family.
type Passthrough struct{}

func (Passthrough) Name() string { return "passthrough" }

func (p Passthrough) Attempt(_ context.Context, req Request) error {
	if req.Source != req.Target && !(req.Source.IsPlainText() && req.Target.IsPlainText()) {
		return ErrNotApplicable
	}
	if err := copyFile(req.InputPath, req.OutputPath); err != nil {
		return &Error{Engine: p.Name(), Code: CodeExited, Err: errors.Wrap(err, "copy")}
	}
	return nil
}

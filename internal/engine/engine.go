// Package engine converts a staged document into a target format by trying
// an ordered chain of conversion strategies until one succeeds.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/docspark/api/internal/config"
	"github.com/docspark/api/internal/metrics"
	"github.com/docspark/api/internal/model"
)

// ErrNotApplicable is returned by a strategy that does not handle the
// requested format pair. The selector skips it without recording a failure.
var ErrNotApplicable = errors.New("strategy not applicable")

// Diagnostic codes carried by *Error.
const (
	CodeNotInstalled = "not installed"
	CodeTimedOut     = "timed out"
	CodeExited       = "exited with error"
	CodeNoOutput     = "produced no output"
	CodeUnavailable  = "unavailable"
)

// Request describes one conversion. OutputPath must not exist yet.
type Request struct {
	InputPath  string
	OutputPath string
	Source     model.Format
	Target     model.Format
}

// Strategy is one way of converting a document.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req Request) error
}

// Error is a failed attempt by an applicable strategy.
type Error struct {
	Engine string
	Code   string
	Err    error
}

func (e *Error) Error() string {
	return e.Engine + " " + e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when no strategy produced output.
type ExhaustedError struct {
	Source   model.Format
	Target   model.Format
	Failures []*Error
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("engine_exhausted: no engine supports %s to %s", e.Source, e.Target)
	}
	codes := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		codes = append(codes, f.Error())
	}
	return "engine_exhausted: " + strings.Join(codes, "; ")
}

// NormalizeFormat maps a user supplied format or file extension onto the
// canonical format name. The result may still be invalid.
func NormalizeFormat(s string) model.Format {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, ".")
	switch s {
	case "htm":
		return model.FormatHTML
	case "markdown":
		return model.FormatMD
	case "text":
		return model.FormatTXT
	}
	return model.Format(s)
}

// Selector runs strategies in order and stops at the first success.
type Selector struct {
	strategies []Strategy
	logger     *zap.Logger
}

func NewSelector(logger *zap.Logger, strategies ...Strategy) *Selector {
	return &Selector{strategies: strategies, logger: logger}
}

// DefaultChain builds the production chain: passthrough, text transforms,
// renderer, document CLI, office suite.
func DefaultChain(cfg config.EnginesConfig, logger *zap.Logger) *Selector {
	return NewSelector(logger,
		Passthrough{},
		TextTransform{},
		NewRenderer(cfg.RendererBin, cfg.BrowserBin, cfg.RendererTimeout),
		NewDocumentCLI(cfg.PandocBin, cfg.PandocTimeout),
		NewOfficeSuite(cfg.SofficeBin, cfg.OfficeTimeout),
	)
}

// Convert writes req.InputPath converted to req.Target at req.OutputPath.
func (s *Selector) Convert(ctx context.Context, req Request) error {
	req.Source = NormalizeFormat(string(req.Source))
	req.Target = NormalizeFormat(string(req.Target))
	if !req.Source.IsValid() || !req.Target.IsValid() {
		return errors.Newf("unsupported format pair %s to %s", req.Source, req.Target)
	}

	exhausted := &ExhaustedError{Source: req.Source, Target: req.Target}
	for _, strategy := range s.strategies {
		if ctx.Err() != nil {
			break
		}
		err := strategy.Attempt(ctx, req)
		switch {
		case err == nil:
			metrics.EngineAttempts.WithLabelValues(strategy.Name(), "success").Inc()
			s.logger.Debug("conversion succeeded",
				zap.String("engine", strategy.Name()),
				zap.String("source", string(req.Source)),
				zap.String("target", string(req.Target)),
			)
			return nil
		case errors.Is(err, ErrNotApplicable):
			metrics.EngineAttempts.WithLabelValues(strategy.Name(), "skipped").Inc()
			continue
		}

		metrics.EngineAttempts.WithLabelValues(strategy.Name(), "failure").Inc()
		var engineErr *Error
		if !errors.As(err, &engineErr) {
			engineErr = &Error{Engine: strategy.Name(), Code: CodeExited, Err: err}
		}
		exhausted.Failures = append(exhausted.Failures, engineErr)
		s.logger.Warn("conversion strategy failed",
			zap.String("engine", strategy.Name()),
			zap.String("code", engineErr.Code),
			zap.Error(engineErr.Err),
		)
		// a failed strategy must not leave partial output for the next one
		_ = os.Remove(req.OutputPath)
	}
	return exhausted
}

// RenderHTML renders raw HTML to a PDF at out using the chain's renderer.
func (s *Selector) RenderHTML(ctx context.Context, html, out string) error {
	for _, strategy := range s.strategies {
		if r, ok := strategy.(*Renderer); ok {
			err := r.RenderHTML(ctx, html, out)
			result := "success"
			if err != nil {
				result = "failure"
				_ = os.Remove(out)
			}
			metrics.EngineAttempts.WithLabelValues(r.Name(), result).Inc()
			return err
		}
	}
	return &Error{Engine: rendererName, Code: CodeUnavailable}
}

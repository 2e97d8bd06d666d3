package storage

import (
	"context"
	"io"

	"github.com/docspark/api/internal/model"
)

// Artifacts is where converted output lives once a job is done. A location
// string returned by Publish is what the job record stores.
type Artifacts interface {
	Publish(ctx context.Context, jobID, localPath string, format model.Format) (string, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	Remove(ctx context.Context, location string) error
}

var (
	_ Artifacts = LocalArtifacts{}
	_ Artifacts = (*R2Artifacts)(nil)
)

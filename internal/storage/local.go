// Package storage owns the on-disk layout for uploads and converted output
// and the artifact stores converted files are published to.
package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/docspark/api/internal/model"
)

const stagingDir = ".staging"

// ErrArtifactMissing is returned when a recorded artifact no longer exists.
var ErrArtifactMissing = errors.New("artifact missing")

// Local partitions files per job id under an uploads and a converted root:
//
//	<uploads>/<jobID>/<safe name>
//	<converted>/<jobID>/<base>.<ext>
type Local struct {
	uploadsDir   string
	convertedDir string
}

func NewLocal(uploadsDir, convertedDir string) (*Local, error) {
	for _, dir := range []string{filepath.Join(uploadsDir, stagingDir), convertedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}
	return &Local{uploadsDir: uploadsDir, convertedDir: convertedDir}, nil
}

// StagingPath returns a fresh path where an incoming upload can be written
// before it has a job id.
func (l *Local) StagingPath(originalName string) string {
	return filepath.Join(l.uploadsDir, stagingDir, uuid.NewString()+strings.ToLower(filepath.Ext(SafeName(originalName))))
}

// Adopt moves a staged upload into the job's upload directory.
func (l *Local) Adopt(jobID, stagedPath, originalName string) (string, error) {
	dir := filepath.Join(l.uploadsDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create upload dir")
	}
	dst := filepath.Join(dir, SafeName(originalName))
	if err := os.Rename(stagedPath, dst); err != nil {
		return "", errors.Wrap(err, "move upload")
	}
	return dst, nil
}

// OutputPath returns where the engine should write the converted file.
func (l *Local) OutputPath(jobID, originalName string, target model.Format) (string, error) {
	dir := filepath.Join(l.convertedDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}
	return filepath.Join(dir, DownloadName(SafeName(originalName), target)), nil
}

// RemoveJob deletes both job directories. Missing directories are not an error.
func (l *Local) RemoveJob(jobID string) error {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return errors.Newf("invalid job id %q", jobID)
	}
	var errs error
	for _, dir := range []string{filepath.Join(l.uploadsDir, jobID), filepath.Join(l.convertedDir, jobID)} {
		if err := os.RemoveAll(dir); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// Remove deletes a single file; a missing file is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// LocalArtifacts serves converted files straight from the converted root.
type LocalArtifacts struct{}

func (LocalArtifacts) Publish(_ context.Context, _ string, localPath string, _ model.Format) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", errors.Wrap(err, "stat converted file")
	}
	return localPath, nil
}

func (LocalArtifacts) Open(_ context.Context, location string) (io.ReadCloser, error) {
	f, err := os.Open(location)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactMissing
	}
	if err != nil {
		return nil, errors.Wrap(err, "open artifact")
	}
	return f, nil
}

func (LocalArtifacts) Remove(_ context.Context, location string) error {
	return Remove(location)
}

// SafeName reduces an uploaded file name to a single path element made of
// portable characters.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	ret := strings.TrimLeft(b.String(), ".")
	if ret == "" {
		return "upload"
	}
	return ret
}

// DownloadName is the original name with its extension replaced by the
// target format's.
func DownloadName(originalName string, target model.Format) string {
	base := strings.TrimSuffix(originalName, filepath.Ext(originalName))
	if base == "" {
		base = "document"
	}
	return base + "." + string(target)
}

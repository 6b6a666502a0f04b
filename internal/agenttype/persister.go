package agenttype

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DiskPersister is the default FilePersister: it materializes file-kind
// variable contents under the per-sub-agent generated directory computed by
// Render, deleting any previous generation before writing the new one.
type DiskPersister struct{}

func (DiskPersister) DeleteGenerated(_ context.Context, base string) error {
	if err := os.RemoveAll(base); err != nil {
		return errors.Wrapf(err, "removing previous generated directory %q", base)
	}
	return nil
}

func (DiskPersister) WriteFile(_ context.Context, path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating parent directory for %q", path)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "writing generated file %q", path)
	}
	return nil
}

var _ FilePersister = DiskPersister{}

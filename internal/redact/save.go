package redact

import (
	"fmt"
	"os"
	"path/filepath"

	"doc-redactor/internal/redacterr"
)

// Save writes rd into dir as OutputName and returns the final path. The
// file is written to a temporary name in dir and renamed into place, so a
// failure never leaves a partial output behind.
func Save(rd *RedactedDocument, dir string) (string, error) {
	final := filepath.Join(dir, rd.OutputName())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", redacterr.SaveFailed(final, err)
	}
	tmp, err := os.CreateTemp(dir, ".redact-*.tmp")
	if err != nil {
		return "", redacterr.SaveFailed(final, err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (string, error) {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		return "", redacterr.SaveFailed(final, err)
	}

	if err := rd.Encode(tmp); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil { // #nosec G302 -- output is meant to be shared
		return fail(err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return fail(fmt.Errorf("rename: %w", err))
	}
	return final, nil
}

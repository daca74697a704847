// Package archive unpacks G-NAF release archives.
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Extract unpacks zipPath under destDir. The tree is built in a sibling
// incomplete/ directory and renamed into place only once every entry is
// written, so a partially-extracted tree never masquerades as complete.
// Entries whose on-disk size already matches are skipped, which makes
// re-extraction after a crash cheap.
//
// Returns the path of the extracted tree.
func Extract(zipPath, destDir string) (string, error) {
	log := zap.L().With(
		zap.String("component", "archive"),
		zap.String("zip", zipPath),
	)

	base := strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath))
	finalDir := filepath.Join(destDir, base)
	if info, err := os.Stat(finalDir); err == nil && info.IsDir() {
		log.Debug("already extracted, skipping", zap.String("dir", finalDir))
		return finalDir, nil
	}

	stagingDir := filepath.Join(destDir, "incomplete", base)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", eris.Wrap(err, "archive: create staging dir")
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "archive: open zip")
	}
	defer r.Close() //nolint:errcheck

	var written, skipped int
	for _, f := range r.File {
		wrote, err := extractEntry(f, stagingDir)
		if err != nil {
			return "", err
		}
		if wrote {
			written++
		} else {
			skipped++
		}
	}

	if err := os.MkdirAll(filepath.Dir(finalDir), 0o755); err != nil {
		return "", eris.Wrap(err, "archive: create dest dir")
	}
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return "", eris.Wrap(err, "archive: finalise extraction")
	}

	log.Info("archive extracted",
		zap.String("dir", finalDir),
		zap.Int("entries", written),
		zap.Int("skipped", skipped),
	)
	return finalDir, nil
}

// extractEntry writes a single zip entry into destDir, streaming so archives
// of tens of gigabytes never sit in memory. Reports whether bytes were written.
func extractEntry(f *zip.File, destDir string) (bool, error) {
	// Sanitize against zip slip.
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return false, eris.Errorf("archive: illegal path %q (zip slip attempt)", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return false, eris.Wrap(err, "archive: create directory")
		}
		return false, nil
	}

	if info, err := os.Stat(destPath); err == nil && info.Size() == int64(f.UncompressedSize64) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return false, eris.Wrap(err, "archive: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return false, eris.Wrapf(err, "archive: open entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return false, eris.Wrapf(err, "archive: create %s", destPath)
	}

	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return false, eris.Wrapf(err, "archive: extract %s", f.Name)
	}
	if err := out.Close(); err != nil {
		return false, eris.Wrapf(err, "archive: close %s", destPath)
	}

	return true, nil
}

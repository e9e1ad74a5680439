package pipeline

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
)

// TarArchiver writes an uncompressed tar whose top entry is the source
// directory's base name
type TarArchiver struct {
	opts    Options
	exclude *Matcher
}

var _ Archiver = (*TarArchiver)(nil)

// NewTarArchiver creates a tar archiver
func NewTarArchiver(opts Options) *TarArchiver {
	return &TarArchiver{opts: opts.withDefaults()}
}

// WithExclude leaves paths matching patterns out of every archive
func (a *TarArchiver) WithExclude(patterns []string) *TarArchiver {
	a.exclude = NewMatcher(patterns)
	return a
}

// Archive implements Archiver
func (a *TarArchiver) Archive(ctx context.Context, sourceDir, destPath string) (string, error) {
	logger := a.opts.Logger.WithContext(ctx)
	logger.Info("Starting tarball process", logging.F("source", sourceDir), logging.F("dest", destPath))

	info, err := os.Stat(sourceDir)
	if err != nil {
		return "", stageError(utils.ErrCodeArchiveFailed, "Failed to tar file", err)
	}
	if !info.IsDir() {
		return "", stageError(utils.ErrCodeArchiveFailed, "Failed to tar file", &fs.PathError{Op: "archive", Path: sourceDir, Err: fs.ErrInvalid})
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", stageError(utils.ErrCodeArchiveFailed, "Failed to tar file", err)
	}

	tw := tar.NewWriter(out)
	err = a.walk(ctx, tw, filepath.Clean(sourceDir), destPath)
	if closeErr := tw.Close(); err == nil {
		err = closeErr
	}
	if err := finish(out, destPath, err); err != nil {
		logger.Error("Failed to tar file", logging.F("error", err.Error()))
		return "", stageError(utils.ErrCodeArchiveFailed, "Failed to tar file", err)
	}
	return destPath, nil
}

func (a *TarArchiver) walk(ctx context.Context, tw *tar.Writer, root, destPath string) error {
	base := filepath.Base(root)
	destAbs, _ := filepath.Abs(destPath)

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		// skip the archive itself when it lands inside the source tree
		if abs, _ := filepath.Abs(p); abs == destAbs {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel != "." && a.exclude.Excluded(filepath.ToSlash(rel), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(base, rel))
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// Package pipeline turns a local folder into an encrypted archive ready for
// upload. Each stage writes a new file next to its input.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
)

// Archiver bundles a directory into one file at destPath
type Archiver interface {
	Archive(ctx context.Context, sourceDir, destPath string) (string, error)
}

// Compressor writes a compressed copy of path and removes path on success
type Compressor interface {
	Compress(ctx context.Context, path string) (string, error)
}

// Encryptor writes an encrypted copy of path and removes path on success
type Encryptor interface {
	Encrypt(ctx context.Context, path string) (string, error)
}

// Options are shared by the stage implementations
type Options struct {
	Logger   logging.Logger
	Progress func(types.Progress)
	Clock    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.NewNoOpLogger()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Progress == nil {
		o.Progress = func(types.Progress) {}
	}
	return o
}

func stageError(code, message string, err error) error {
	return utils.WrapAppError(utils.NewCLIError(code,
		fmt.Sprintf("%s: %s", message, err)).Build(), err)
}

// finish closes out and keeps it on success. On failure the partial output
// is removed and the first error wins.
func finish(out *os.File, path string, err error) error {
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

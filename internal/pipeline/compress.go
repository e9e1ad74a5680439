package pipeline

import (
	"context"
	"io"
	"os"

	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/ulikunitz/xz"
)

// XZCompressor writes path + ".xz"
type XZCompressor struct {
	opts     Options
	readSize int
}

var _ Compressor = (*XZCompressor)(nil)

// NewXZCompressor creates an xz compressor reading 64 MiB at a time
func NewXZCompressor(opts Options) *XZCompressor {
	return &XZCompressor{opts: opts.withDefaults(), readSize: utils.CompressReadSize}
}

// Compress implements Compressor
func (c *XZCompressor) Compress(ctx context.Context, path string) (string, error) {
	logger := c.opts.Logger.WithContext(ctx)
	logger.Info("Starting to compress", logging.F("file", path))

	in, err := os.Open(path)
	if err != nil {
		return "", stageError(utils.ErrCodeCompressFailed, "Failed to compress file", err)
	}
	defer in.Close()

	stat, err := in.Stat()
	if err != nil {
		return "", stageError(utils.ErrCodeCompressFailed, "Failed to compress file", err)
	}

	target := path + utils.CompressExt
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", stageError(utils.ErrCodeCompressFailed, "Failed to compress file", err)
	}

	err = c.copy(ctx, out, in, uint64(stat.Size()))
	if err := finish(out, target, err); err != nil {
		logger.Error("Failed to compress file", logging.F("error", err.Error()))
		return "", stageError(utils.ErrCodeCompressFailed, "Failed to compress file", err)
	}

	in.Close()
	if err := os.Remove(path); err != nil {
		logger.Warn("Failed to remove compressed input", logging.F("file", path), logging.F("error", err.Error()))
	}
	return target, nil
}

func (c *XZCompressor) copy(ctx context.Context, out io.Writer, in io.Reader, total uint64) error {
	xw, err := xz.NewWriter(out)
	if err != nil {
		return err
	}

	buf := make([]byte, c.readSize)
	start := c.opts.Clock()
	last := start
	var done uint64
	for {
		if err := ctx.Err(); err != nil {
			xw.Close()
			return err
		}
		n, readErr := io.ReadFull(in, buf)
		if n > 0 {
			if _, err := xw.Write(buf[:n]); err != nil {
				xw.Close()
				return err
			}
			done += uint64(n)
			now := c.opts.Clock()
			var rate float64
			if d := now.Sub(last).Seconds(); d > 0 {
				rate = float64(n) / d
			}
			last = now
			c.opts.Progress(types.Progress{Processed: done, Total: total, Elapsed: now.Sub(start), Throughput: rate})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			xw.Close()
			return readErr
		}
	}
	return xw.Close()
}

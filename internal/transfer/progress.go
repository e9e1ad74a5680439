package transfer

import (
	"fmt"

	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dustin/go-humanize"
)

// FormatProgress renders one observation as
// "Processing... <done>/<total> - elapsed <s> (<rate>/s)".
func FormatProgress(p types.Progress) string {
	return fmt.Sprintf("Processing... %s/%s - elapsed %.2fs (%s/s)",
		humanize.IBytes(p.Processed),
		humanize.IBytes(p.Total),
		p.Elapsed.Seconds(),
		humanize.IBytes(uint64(p.Throughput)),
	)
}

// LogProgress returns a ProgressFunc writing FormatProgress lines at info level
func LogProgress(logger logging.Logger) ProgressFunc {
	return func(p types.Progress) {
		logger.Info(FormatProgress(p))
	}
}

// Command dbxbackup makes encrypted, deduplicated folder backups in Dropbox.
package main

import (
	"github.com/dl-alexandre/dbxbackup/internal/cli"
)

func main() {
	_ = cli.Execute()
}

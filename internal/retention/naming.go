package retention

import (
	"strings"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/utils"
)

// TimestampLayout is the fixed-width UTC name prefix. Lexicographic order
// of names equals chronological order.
const TimestampLayout = utils.TimestampLayout

// Fingerprint is the hex MD5 digest of an archive's bytes
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

// CanonicalName builds "<timestamp>-<fingerprint><ext>" with the timestamp
// in UTC
func CanonicalName(ts time.Time, fp Fingerprint, ext string) string {
	return ts.UTC().Format(TimestampLayout) + "-" + string(fp) + ext
}

// FingerprintToken extracts the text between the first "-" and the next
// ".". Names without that shape report false.
func FingerprintToken(name string) (string, bool) {
	_, rest, ok := strings.Cut(name, "-")
	if !ok {
		return "", false
	}
	token, _, ok := strings.Cut(rest, ".")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

package content

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Chat messages are plain text: everything that parses as markup is
// stripped, both on the send path and on ingest from the shared transport.
var policy = bluemonday.StrictPolicy()

// SanitizeText removes any HTML from a message body and trims surrounding
// whitespace.
func SanitizeText(input string) string {
	return strings.TrimSpace(policy.Sanitize(input))
}

// Package contenthash fingerprints normalized text for use as an enrichment cache key.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

// TooShortMarker is written in place of a transcript when the recording had no usable speech.
const TooShortMarker = "[too short]"

// Hash returns the hex SHA-256 of the whitespace-normalized text prefixed with the content type.
// Case is preserved. Returns EmptyContentError for empty text or TooShortMarker.
// The hash is a cache key only and must not be used as a security token.
func Hash(text string, contentType models.ContentType) (string, error) {
	normalized := Normalize(text)
	if normalized == "" || normalized == TooShortMarker {
		return "", huberrors.NewEmptyContentError(string(contentType))
	}

	h := sha256.New()
	h.Write([]byte(contentType))
	h.Write([]byte{0})
	h.Write([]byte(normalized))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Normalize collapses every run of whitespace (spaces, tabs, CR, LF) into a single space
// and trims both ends, so line-ending style and trailing whitespace do not change the hash.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Package normalize canonicalizes ingested rows and resolves the
// identifier each record's output file is named after.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Lllllllleong/reportbatchflow/internal/models"
)

// MaxStemBytes bounds the display part of an identifier in bytes, leaving
// room for the position suffix and extension within a 255-byte file name.
const MaxStemBytes = 200

// FallbackStem names records that have no usable display value.
const FallbackStem = "record"

// IdentifierCandidates are the canonical keys tried, in order, for a display name.
var IdentifierCandidates = []string{
	"name",
	"full_name",
	"patient_name",
	"patient",
	"display_name",
}

var whitespaceRun = regexp.MustCompile(`[\p{Z}\s]+`)

// CanonicalKey trims, lowercases and joins whitespace runs with an underscore.
// It returns "" for labels that are blank.
func CanonicalKey(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))
	return whitespaceRun.ReplaceAllString(key, "_")
}

// Normalize derives a NormalizedRecord from raw. It never fails: blank
// labels are dropped and empty cells become models.NotAvailable.
func Normalize(raw models.RawRecord) models.NormalizedRecord {
	rec := models.NewNormalizedRecord(len(raw))
	for _, f := range raw {
		key := CanonicalKey(f.Label)
		if key == "" {
			continue
		}
		value := FormatValue(f.Value)
		if existing, ok := rec.Lookup(key); ok && existing != models.NotAvailable {
			continue
		}
		rec.Set(key, value)
	}
	return rec
}

// FormatValue renders a cell as text, mapping empty cells to models.NotAvailable.
func FormatValue(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return models.NotAvailable
	case string:
		s = strings.TrimSpace(x)
	case float64:
		if math.IsNaN(x) {
			return models.NotAvailable
		}
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		if math.IsNaN(float64(x)) {
			return models.NotAvailable
		}
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	case bool:
		s = strconv.FormatBool(x)
	case time.Time:
		if x.IsZero() {
			return models.NotAvailable
		}
		s = x.Format(time.DateOnly)
	default:
		s = strings.TrimSpace(fmt.Sprint(x))
	}
	if s == "" {
		return models.NotAvailable
	}
	return s
}

// HasIdentifyingColumn reports whether any header label canonicalizes to
// one of IdentifierCandidates.
func HasIdentifyingColumn(labels []string) bool {
	for _, l := range labels {
		key := CanonicalKey(l)
		for _, c := range IdentifierCandidates {
			if key == c {
				return true
			}
		}
	}
	return false
}

// DisplayName returns the first usable candidate value of rec.
func DisplayName(rec models.NormalizedRecord) (string, bool) {
	for _, key := range IdentifierCandidates {
		v, ok := rec.Lookup(key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v != "" && v != models.NotAvailable {
			return v, true
		}
	}
	return "", false
}

// ResolveIdentifier names the record at the 1-based position. The position
// suffix keeps identifiers unique within a batch.
func ResolveIdentifier(rec models.NormalizedRecord, position int) models.RecordIdentifier {
	stem := FallbackStem
	if name, ok := DisplayName(rec); ok {
		if safe := SafeName(name); safe != "" {
			stem = safe
		}
	}
	return models.RecordIdentifier(fmt.Sprintf("%s_%d", stem, position))
}

var (
	unsafeChars   = regexp.MustCompile(`[^\p{L}\p{N}\p{Z}_\-\s]+`)
	separatorRuns = regexp.MustCompile(`[\p{Z}\s\-]+`)
)

// SafeName converts a display value into a lowercase file name stem.
func SafeName(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeChars.ReplaceAllString(s, "")
	s = separatorRuns.ReplaceAllString(s, "_")
	s = strings.Trim(strings.ToLower(s), "_")
	if len(s) > MaxStemBytes {
		s = strings.TrimRight(truncateBytes(s, MaxStemBytes), "_")
	}
	return s
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

package backend

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// dueSignatureLayout matches the fixed rendering used before hashing:
// no sub-second precision, explicit UTC offset.
const dueSignatureLayout = "2006-01-02T15:04:05-07:00"

// Fingerprint derives a 128-bit content hash from the four fields that
// determine whether two Task values represent the same logical task:
// title, description, due, and status. Tasks differing only in tags,
// notes, or priority still hash equal and must be merged rather than
// duplicated.
//
// The digest does not depend on field order or locale, and is stable
// across stores: a task pulled from Google and the same task already in
// LocalStore fingerprint identically.
func Fingerprint(title, description string, due *time.Time, status Status) (string, error) {
	normTitle := normalizeText(title)
	normDesc := strings.TrimSpace(description)
	dueSig, err := normalizeDue(due)
	if err != nil {
		return "", err
	}

	signature := fmt.Sprintf("%s|%s|%s|%s", normTitle, normDesc, dueSig, status)
	sum := md5.Sum([]byte(signature))
	return hex.EncodeToString(sum[:]), nil
}

// FingerprintTask is a convenience wrapper over Fingerprint for a Task
// value.
func FingerprintTask(t Task) (string, error) {
	return Fingerprint(t.Title, t.Description, t.Due, t.Status)
}

func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	s = norm.NFC.String(s)
	return strings.ToLower(s)
}

// normalizeDue renders due as YYYY-MM-DDTHH:MM:SS+00:00 in UTC with
// sub-second precision dropped; a nil or zero due renders as the empty
// string. It does no parsing of its own; ParseDueForFingerprint is where a
// trailing "Z" is rewritten to "+00:00" before a raw string is parsed.
func normalizeDue(due *time.Time) (string, error) {
	if due == nil || due.IsZero() {
		return "", nil
	}
	return due.UTC().Truncate(time.Second).Format(dueSignatureLayout), nil
}

// ParseDueForFingerprint parses any ISO-8601 due-date representation
// ahead of fingerprinting. It returns *FingerprintError, never a panic,
// when raw is non-empty but structurally malformed; callers treat that
// input as fingerprint-less rather than failing the surrounding
// operation.
func ParseDueForFingerprint(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	normalized := raw
	if strings.HasSuffix(normalized, "Z") {
		normalized = strings.TrimSuffix(normalized, "Z") + "+00:00"
	}

	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return &t, nil
		}
	}
	return nil, &FingerprintError{Field: "due", Value: raw, Err: fmt.Errorf("unrecognised ISO-8601 representation")}
}

package ingest

import (
	"crypto/sha1"
	"encoding/hex"
)

// Fingerprint returns the deterministic content hash used for duplicate
// rejection: SHA-1 over the equipment id and the four raw, pre-normalization
// field strings joined with '|'. Two lines with identical raw field text
// fingerprint identically even when time normalization would later fail.
// This is a dedup key, not a security boundary.
func Fingerprint(equipment, stTime, spTime, project, logName string) string {
	h := sha1.Sum([]byte(equipment + "|" + stTime + "|" + spTime + "|" + project + "|" + logName))
	return hex.EncodeToString(h[:])
}

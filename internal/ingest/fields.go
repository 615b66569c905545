// Package ingest implements the log ingestion and run consolidation engine:
// raw line parsing, fingerprint-based duplicate rejection, and overlap-based
// run merging with a longest-duration-wins policy.
package ingest

import (
	"regexp"
	"strings"

	"github.com/s100-analytics/backend/internal/models"
)

var (
	siteRegex      = regexp.MustCompile(`^[sS](\d+)$`)
	engPrefixRegex = regexp.MustCompile(`(?i)^ENG(?:-([A-Za-z0-9]+))?-`)
)

// ParseKeyVals splits one raw log line into a key/value map. Segments are
// comma-separated, keys and values trimmed, empty segments and segments
// without '=' dropped. No escaping is supported: a value containing a
// literal comma is truncated at the comma. That is a raw-format limitation.
func ParseKeyVals(line string) map[string]string {
	kv := make(map[string]string)
	for _, part := range strings.Split(strings.TrimSpace(line), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return kv
}

// SplitProject splits a raw Project value on the first underscore into
// (customer, code). Without an underscore the whole value is the customer.
func SplitProject(projectRaw *string) (customer, code *string) {
	if projectRaw == nil || *projectRaw == "" {
		return projectRaw, nil
	}
	a, b, ok := strings.Cut(*projectRaw, "_")
	if !ok {
		return projectRaw, nil
	}
	return &a, &b
}

// ParseLogName tokenizes a raw LogName value.
//
// Order matters: the ENG prefix is stripped first, then a trailing site
// token (s1..sN), then the remaining tokens fill the fixed positions
// [sample_no, voltage, test_item, temp, category, accessory]. Tokens are
// assigned purely by position.
func ParseLogName(logNameRaw *string) models.LogNameFields {
	var out models.LogNameFields
	if logNameRaw == nil {
		return out
	}
	s := strings.TrimSpace(*logNameRaw)
	if s == "" {
		return out
	}

	if m := engPrefixRegex.FindStringSubmatch(s); m != nil {
		out.EngFlag = true
		if tag := strings.TrimSpace(m[1]); tag != "" {
			out.EngTag = &tag
		}
		s = s[len(m[0]):]
	}

	var toks []string
	for _, t := range strings.Split(s, "_") {
		if t != "" {
			toks = append(toks, t)
		}
	}
	if len(toks) == 0 {
		return out
	}

	if siteRegex.MatchString(toks[len(toks)-1]) {
		site := toks[len(toks)-1]
		out.Site = &site
		toks = toks[:len(toks)-1]
	}

	slots := []**string{
		&out.SampleNo, &out.Voltage, &out.TestItem,
		&out.Temp, &out.Category, &out.Accessory,
	}
	for i, slot := range slots {
		if i < len(toks) {
			tok := toks[i]
			*slot = &tok
		}
	}
	return out
}

package threat

import (
	"strings"
)

// Detector classifies raw signals into integer threat weights. All methods
// are pure: 0 means no threat, a positive value is the threat strength for
// that single signal. Aggregation over time is the rate limiter's job.
type Detector struct {
	badUsernames map[string]struct{}
}

// sensitiveNames are path fragments that legitimate visitors have no reason
// to request: config files, docs revealing versions, VCS metadata.
var sensitiveNames = []string{
	"wp-config",
	"readme",
	"webconfig",
	"cgi-bin",
	".git",
}

// archiveExtensions are backup/archive suffixes scanners probe for, longest
// first so a compound extension wins over its shorter tail.
var archiveExtensions = []string{
	".tar.gz",
	".bzip",
	".zip",
	".tar",
	".bak",
	".gz",
}

// NewDetector builds a detector with the given bad-username set. Matching is
// case-insensitive.
func NewDetector(badUsernames []string) *Detector {
	set := make(map[string]struct{}, len(badUsernames))
	for _, u := range badUsernames {
		set[strings.ToLower(u)] = struct{}{}
	}
	return &Detector{badUsernames: set}
}

// ScoreUsername returns 1 if the username is a common brute-force target.
func (d *Detector) ScoreUsername(username string) int {
	if _, ok := d.badUsernames[strings.ToLower(username)]; ok {
		return 1
	}
	return 0
}

// ScoreFilename returns 1 if the path contains a sensitive file or directory
// name.
func (d *Detector) ScoreFilename(path string) int {
	for _, name := range sensitiveNames {
		if strings.Contains(path, name) {
			return 1
		}
	}
	return 0
}

// ScoreFileExtension returns 1 if the path ends with an archive or backup
// extension. Candidates are checked longest first, each behind a length
// guard, so "backup.tar.gz" matches ".tar.gz" rather than missing on a
// shorter slice.
func (d *Detector) ScoreFileExtension(path string) int {
	lower := strings.ToLower(path)
	for _, ext := range archiveExtensions {
		if len(lower) >= len(ext) && strings.HasSuffix(lower, ext) {
			return 1
		}
	}
	return 0
}

// ScoreURI is an extension point for URI-based heuristics. It deliberately
// stays a no-op; hosts needing URI scoring should layer their own rules on
// top of the recorded audit trail.
func (d *Detector) ScoreURI(uri string) int {
	return 0
}

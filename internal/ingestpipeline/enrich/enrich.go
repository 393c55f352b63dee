// Package enrich implements ProfileNameEnricher (C4): it re-reads a
// Traceback's raw_full_text to recover profile_name/username when the
// origin line alone didn't carry them.
//
// Grounded on original_source/web/app/profile_name_parser.py: the
// per-program-name extraction rules and backward ERROR-line walk are
// carried over verbatim in their intended (non-buggy) form — the original's
// `username = profile_name` on the update.debug branch looks like a typo
// for `username = potential_profile_name`; spec.md §4.4 describes the
// corrected behavior, which is what's implemented here.
package enrich

import (
	"regexp"
	"strings"

	"github.com/paperwatch/traceline/internal/domain"
)

var (
	updateDebugPattern    = regexp.MustCompile(`#upd:(\S+?):`)
	activityWorkerPattern = regexp.MustCompile(`:(\S+):\s+ERROR`)
	mainThreadPIDPattern  = regexp.MustCompile(`\s(\d+)/MainThread`)
	profileUsernamePattern = regexp.MustCompile(`/(?:WS|PV)#(\S+)-(\S*@\S+)\s*:`)
)

// Enrich returns tb with profile_name/username filled in where they were
// previously nil and the algorithm recovered a value. Existing non-null
// values are never overwritten.
func Enrich(tb domain.Traceback) domain.Traceback {
	lines := strings.Split(tb.RawFullText, "\n")
	precursor := stripTracebackText(lines)
	if precursor == nil {
		return tb
	}
	errIdx := findFirstErrorLine(precursor)
	if errIdx < 0 {
		return tb
	}
	errLine := precursor[errIdx]

	var profileName, username string

	if strings.HasSuffix(tb.ProgramName, "update.debug") {
		if m := updateDebugPattern.FindStringSubmatch(errLine); m != nil {
			captured := m[1]
			if strings.Contains(captured, "@") {
				username = captured
			} else {
				profileName = captured
			}
		}
	}

	if strings.Contains(tb.ProgramName, "activity-worker") {
		if m := activityWorkerPattern.FindStringSubmatch(errLine); m != nil {
			profileName = m[1]
		}
	}

	if strings.Contains(tb.ProgramName, "engine.server.debug") || strings.Contains(tb.ProgramName, "manager.debug") {
		if pidMatch := mainThreadPIDPattern.FindStringSubmatch(errLine); pidMatch != nil {
			pid := pidMatch[1]
			if priorIdx := findLastLineContaining(precursor, errIdx-1, pid); priorIdx >= 0 {
				if m := profileUsernamePattern.FindStringSubmatch(precursor[priorIdx]); m != nil {
					profileName = m[1]
					username = m[2]
				}
			}
		}
	}

	if tb.ProfileName == nil && profileName != "" {
		tb.ProfileName = &profileName
	}
	if tb.Username == nil && username != "" {
		tb.Username = &username
	}
	return tb
}

// stripTracebackText drops every line from the last occurrence of the
// traceback marker onward, returning nil if the marker is absent.
func stripTracebackText(lines []string) []string {
	lastIdx := -1
	for i, l := range lines {
		if strings.Contains(l, domain.TracebackMarker) {
			lastIdx = i
		}
	}
	if lastIdx < 0 {
		return nil
	}
	return lines[:lastIdx]
}

// findFirstErrorLine walks backward for the first line containing "ERROR".
func findFirstErrorLine(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i], "ERROR") {
			return i
		}
	}
	return -1
}

// findLastLineContaining walks backward from startIdx for the nearest line
// containing needle.
func findLastLineContaining(lines []string, startIdx int, needle string) int {
	for i := startIdx; i >= 0; i-- {
		if strings.Contains(lines[i], needle) {
			return i
		}
	}
	return -1
}

// Package apicall implements ApiCallExtractor (C3): a streaming parser
// that recognizes authenticated request-timing log lines from a
// configured set of program names and emits domain.ApiCall records.
//
// Grounded on spec.md §4.3's regex, ported from
// original_source/src/lib/api_call/api_call_parser.py's API_CALL_REGEX,
// which it matches field-for-field.
package apicall

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ingestpipeline/lineparser"
)

// DefaultPrograms is the initial whitelisted program-name set from
// spec.md §4.3.
var DefaultPrograms = map[string]struct{}{
	"engine.server.debug": {},
	"manager.debug":       {},
}

var apiCallPattern = regexp.MustCompile(
	`\d+/\w+#(?:(?P<profile_name>\w+)-)?(?P<username>[A-Za-z0-9_.+\-@]+).*\s(?P<api_name>\w+)\s\((?P<method>[A-Z]+)\)\s+took\s+(?P<duration>\d+)\s+milliseconds(?:\s+to\s+complete(?:\s+and\s+final\s+memory\s+(?P<memory_final>-?\d+)MB\s+\(delta\s+(?P<memory_delta>-?\d+)MB\))?)?`,
)

// Extractor holds the configured program-name whitelist.
type Extractor struct {
	programs map[string]struct{}
}

// New builds an Extractor over the given whitelist. A nil/empty set falls
// back to DefaultPrograms.
func New(programs map[string]struct{}) *Extractor {
	if len(programs) == 0 {
		programs = DefaultPrograms
	}
	return &Extractor{programs: programs}
}

// Extract applies the C3 pre-filter and regex to line, returning an
// ApiCall and ok=true on a match.
func (e *Extractor) Extract(line lineparser.Line) (domain.ApiCall, bool) {
	if !e.prefilter(line) {
		return domain.ApiCall{}, false
	}

	match := apiCallPattern.FindStringSubmatch(line.ParsedMessage)
	if match == nil {
		return domain.ApiCall{}, false
	}
	groups := namedGroups(apiCallPattern, match)

	duration, err := strconv.Atoi(groups["duration"])
	if err != nil {
		return domain.ApiCall{}, false
	}

	call := domain.ApiCall{
		PapertrailID: line.PapertrailID,
		Timestamp:    line.Timestamp,
		InstanceID:   line.InstanceID,
		ProgramName:  line.ProgramName,
		ApiName:      groups["api_name"],
		Method:       groups["method"],
		Username:     groups["username"],
		DurationMs:   duration,
	}
	if p := groups["profile_name"]; p != "" {
		call.ProfileName = &p
	}
	if v := groups["memory_final"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			call.MemoryFinalMB = &n
		}
	}
	if v := groups["memory_delta"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			call.MemoryDeltaMB = &n
		}
	}
	return call, true
}

func (e *Extractor) prefilter(line lineparser.Line) bool {
	if !strings.Contains(line.ParsedMessage, "milliseconds to complete") {
		return false
	}
	if strings.Contains(line.ParsedMessage, "MainThread") {
		return false
	}
	_, whitelisted := e.programs[line.ProgramName]
	return whitelisted
}

func namedGroups(re *regexp.Regexp, match []string) map[string]string {
	groups := make(map[string]string, len(match))
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		groups[name] = match[i]
	}
	return groups
}

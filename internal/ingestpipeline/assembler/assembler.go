// Package assembler implements TracebackAssembler (C2): a single-pass state
// machine over a line stream that recognizes Python traceback origin lines
// and assembles each one, plus up to K preceding same-host/same-program
// lines of context, into a domain.Traceback.
//
// Grounded on original_source/src/lib/traceback/test_assertion_regex.py for
// the exact error-predicate positive/negative cases, and
// original_source/src/lib/traceback/traceback.py for the text-extraction
// rules (traceback_text / traceback_plus_context_text / raw_traceback_text
// / raw_full_text).
package assembler

import (
	"regexp"
	"strings"

	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ingestpipeline/lineparser"
)

const (
	// RingCapacity bounds how many recent lines the assembler remembers
	// for backward context walks (spec.md §4.2).
	RingCapacity = 10_000
	// MaxContextLines is K, the maximum number of same-host/same-program
	// lines collected backward from an origin line.
	MaxContextLines = 50
	// PlusContextLines is the number of extra lines kept immediately
	// before the traceback marker for traceback_plus_context_text.
	PlusContextLines = 3
)

var (
	markerLine  = regexp.MustCompile(`\n(?:AssertionError|KeyError|NotImplementedError|ValueError)`)
	exclusions  = []*regexp.Regexp{
		regexp.MustCompile(`details = AssertionError`),
		regexp.MustCompile(`AssertionError.*can only join a child process`),
		regexp.MustCompile(`threading\.pyc`),
		regexp.MustCompile(`args:\[`),
	}
)

// IsErrorLine is the error predicate from spec.md §4.2: message contains
// one of the class markers immediately preceded by a newline (i.e. at the
// start of a line once messages are stitched together), and does not match
// any of the negative-exclusion patterns.
func IsErrorLine(message string) bool {
	candidate := "\n" + message
	if !markerLine.MatchString(candidate) {
		return false
	}
	for _, ex := range exclusions {
		if ex.MatchString(candidate) {
			return false
		}
	}
	return true
}

// Assembler holds the bounded backward-context ring for one stream. Each
// stream (archive file, realtime tail) should use its own Assembler.
type Assembler struct {
	ring           []lineparser.Line
	malformedCount int
}

// New builds an empty Assembler.
func New() *Assembler {
	return &Assembler{ring: make([]lineparser.Line, 0, RingCapacity)}
}

// MalformedCount returns the Assembler's malformed-line counter. Nothing in
// this package increments it (Process receives already-parsed lines), so
// it stays 0; ArchiveIngestor counts malformed lines on its own.
func (a *Assembler) MalformedCount() int { return a.malformedCount }

func (a *Assembler) push(line lineparser.Line) {
	a.ring = append(a.ring, line)
	if len(a.ring) > RingCapacity {
		a.ring = a.ring[len(a.ring)-RingCapacity:]
	}
}

// Process classifies line. If it is an origin line, it assembles and
// returns the resulting Traceback (ok=true); otherwise ok=false. line is
// always pushed into the ring afterward regardless of outcome.
func (a *Assembler) Process(line lineparser.Line) (domain.Traceback, bool) {
	defer a.push(line)

	if !IsErrorLine(line.ParsedMessage) {
		return domain.Traceback{}, false
	}

	context := a.collectContext(line)
	tb, ok := assemble(line, context)
	return tb, ok
}

// collectContext walks the ring newest-first, keeping at most
// MaxContextLines sharing (instance_id, program_name) with origin, then
// reverses the result so context precedes the origin chronologically.
func (a *Assembler) collectContext(origin lineparser.Line) []lineparser.Line {
	matches := make([]lineparser.Line, 0, MaxContextLines)
	for i := len(a.ring) - 1; i >= 0 && len(matches) < MaxContextLines; i-- {
		l := a.ring[i]
		if l.InstanceID == origin.InstanceID && l.ProgramName == origin.ProgramName {
			matches = append(matches, l)
		}
	}
	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}
	return matches
}

func assemble(origin lineparser.Line, context []lineparser.Line) (domain.Traceback, bool) {
	full := append(append([]lineparser.Line{}, context...), origin)

	rawLines := make([]string, len(full))
	parsedLines := make([]string, len(full))
	for i, l := range full {
		rawLines[i] = l.FormattedLine
		parsedLines[i] = l.ParsedMessage
	}
	rawFullText := strings.Join(rawLines, "\n")
	parsedFullText := strings.Join(parsedLines, "\n")

	tracebackText, contextBefore, found := extractFromMarker(parsedLines, domain.TracebackMarker)
	if !found {
		// No marker located anywhere in the assembled window: per
		// spec.md §4.2 step 1d, emit nothing for this origin.
		return domain.Traceback{}, false
	}
	// The marker line may carry text before the marker itself;
	// traceback_text starts at the marker.
	tracebackText = tracebackText[strings.Index(tracebackText, domain.TracebackMarker):]

	rawTracebackText, _, rawFound := extractFromMarker(rawLines, domain.TracebackMarker)
	if !rawFound {
		rawTracebackText = tracebackText
	}

	plusContext := tracebackText
	if n := len(contextBefore); n > 0 {
		start := n - PlusContextLines
		if start < 0 {
			start = 0
		}
		plusContext = strings.Join(append(append([]string{}, contextBefore[start:]...), tracebackText), "\n")
	}

	return domain.Traceback{
		OriginID:                  origin.PapertrailID,
		OriginTime:                origin.Timestamp,
		InstanceID:                origin.InstanceID,
		ProgramName:               origin.ProgramName,
		TracebackText:             tracebackText,
		TracebackPlusContextText:  plusContext,
		RawTracebackText:          rawTracebackText,
		RawFullText:               rawFullText,
	}, true
}

// extractFromMarker finds the last line containing marker and returns the
// text from that line onward joined by "\n", the lines strictly before it,
// and whether marker was found at all.
func extractFromMarker(lines []string, marker string) (tail string, before []string, found bool) {
	lastIdx := -1
	for i, l := range lines {
		if strings.Contains(l, marker) {
			lastIdx = i
		}
	}
	if lastIdx == -1 {
		return "", nil, false
	}
	return strings.Join(lines[lastIdx:], "\n"), append([]string{}, lines[:lastIdx]...), true
}

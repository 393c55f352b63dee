// Package lineparser implements LineParser (C1): it turns one tab-delimited
// archive log record, or one realtime JSON event, into a normalized line
// ready for TracebackAssembler and ApiCallExtractor.
//
// Grounded on original_source/src/common_util/parser_util.py and
// web/app/services/parser_util.py for timestamp normalization, and
// original_source/src/lib/papertrail/* for the 10-field archive record
// shape.
package lineparser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paperwatch/traceline/internal/domain"
)

// DisplayZone is the configured zone every normalized timestamp is
// converted to before it is returned (spec.md §4.1).
var DisplayZone = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("lineparser: cannot load timezone %q: %v", name, err))
	}
	return loc
}

// Line is the normalized output of LineParser, consumed by
// TracebackAssembler and ApiCallExtractor.
type Line struct {
	PapertrailID  string
	Timestamp     time.Time
	InstanceID    string
	ProgramName   string
	ParsedMessage string
	FormattedLine string
}

const archiveFieldCount = 10

// ParseArchiveLine parses one tab-delimited record with exactly 10 fields:
// id, generated_at, received_at, source_id, instance_id, source_ip,
// facility, severity, program, message. The 10th field is never re-split,
// since the message itself may contain tabs.
func ParseArchiveLine(raw string) (Line, error) {
	fields := strings.SplitN(raw, "\t", archiveFieldCount)
	if len(fields) != archiveFieldCount {
		return Line{}, domain.E("LineParser.ParseArchiveLine", domain.KindPermanentInput,
			fmt.Errorf("expected %d tab-delimited fields, got %d", archiveFieldCount, len(fields)))
	}

	id := fields[0]
	generatedAt := fields[1]
	instanceID := fields[4]
	program := fields[8]
	message := fields[9]

	ts, err := NormalizeTimestamp(generatedAt)
	if err != nil {
		return Line{}, domain.E("LineParser.ParseArchiveLine", domain.KindPermanentInput, err)
	}

	return newLine(id, ts, instanceID, program, message), nil
}

// realtimeEvent is the shape of one papertrail CLI JSON event (SPEC_FULL.md
// §C1 supplement): the CLI emits newline-delimited JSON instead of the
// archive's tab-delimited form, but carries the same fields.
type realtimeEvent struct {
	ID          string `json:"id"`
	GeneratedAt string `json:"generated_at"`
	InstanceID  string `json:"source_name"`
	Program     string `json:"program"`
	Message     string `json:"message"`
}

// ParseJSONEvent parses one realtime papertrail CLI JSON line into the same
// normalized Line shape as ParseArchiveLine.
func ParseJSONEvent(raw []byte) (Line, error) {
	var ev realtimeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Line{}, domain.E("LineParser.ParseJSONEvent", domain.KindPermanentInput, err)
	}
	if ev.ID == "" || ev.InstanceID == "" || ev.Program == "" {
		return Line{}, domain.E("LineParser.ParseJSONEvent", domain.KindPermanentInput,
			fmt.Errorf("missing required field in realtime event"))
	}

	ts, err := NormalizeTimestamp(ev.GeneratedAt)
	if err != nil {
		return Line{}, domain.E("LineParser.ParseJSONEvent", domain.KindPermanentInput, err)
	}

	return newLine(ev.ID, ts, ev.InstanceID, ev.Program, ev.Message), nil
}

func newLine(id string, ts time.Time, instanceID, program, message string) Line {
	return Line{
		PapertrailID:  id,
		Timestamp:     ts,
		InstanceID:    instanceID,
		ProgramName:   program,
		ParsedMessage: message,
		FormattedLine: formatLine(ts, instanceID, program, message),
	}
}

// formatLine builds "<Mon> <DD> <HH:MM:SS> <instance> <program>: <message>"
// per spec.md §4.1.
func formatLine(ts time.Time, instanceID, program, message string) string {
	return fmt.Sprintf("%s %s %s: %s", ts.Format("Jan _2 15:04:05"), instanceID, program, message)
}

// NormalizeTimestamp accepts "YYYY-MM-DDTHH:MM:SS" with no suffix (UTC),
// "Z" (UTC), "-04:00" or "-05:00" (America/New_York wall time), converting
// the result to DisplayZone. Any other offset fails fast.
func NormalizeTimestamp(raw string) (time.Time, error) {
	const layoutNoZone = "2006-01-02T15:04:05"

	switch {
	case strings.HasSuffix(raw, "Z"):
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized UTC timestamp %q: %w", raw, err)
		}
		return t.In(DisplayZone), nil

	case strings.HasSuffix(raw, "-04:00") || strings.HasSuffix(raw, "-05:00"):
		wallClock := raw[:len(raw)-len("-04:00")]
		t, err := time.ParseInLocation(layoutNoZone, wallClock, DisplayZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized Eastern-offset timestamp %q: %w", raw, err)
		}
		return t, nil

	default:
		if t, err := time.ParseInLocation(layoutNoZone, raw, time.UTC); err == nil {
			return t.In(DisplayZone), nil
		}
		return time.Time{}, fmt.Errorf("unrecognized timezone in timestamp %q", raw)
	}
}

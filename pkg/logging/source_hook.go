package logging

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var closureSuffix = regexp.MustCompile(`^func\d+$`)

// SourceHook stamps every log entry with the module/service/method of the
// call site that produced it, so log aggregation can group by origin
// without parsing free-text messages.
type SourceHook struct{}

// NewSourceHook returns a hook ready to be attached with logger.AddHook.
func NewSourceHook() *SourceHook {
	return &SourceHook{}
}

func (h *SourceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *SourceHook) Fire(entry *logrus.Entry) error {
	file, line, funcName := findCallSite()
	module, service := extractModuleAndService(file)
	entry.Data["source"] = fmt.Sprintf("%s:%d", file, line)
	entry.Data["module"] = module
	entry.Data["service"] = service
	entry.Data["method"] = extractMethodName(funcName)
	return nil
}

// findCallSite walks the goroutine stack past logrus internals and this
// package to find the frame that actually issued the log call.
func findCallSite() (file string, line int, funcName string) {
	for skip := 2; skip < 40; skip++ {
		pc, f, l, ok := runtime.Caller(skip)
		if !ok {
			break
		}
		if strings.Contains(f, "sirupsen/logrus") {
			continue
		}
		if strings.Contains(filepath.ToSlash(f), "pkg/logging/") && !strings.HasSuffix(f, "_test.go") {
			continue
		}
		name := ""
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
		}
		return f, l, name
	}
	return "", 0, ""
}

func extractMethodName(fullName string) string {
	if fullName == "" {
		return "unknown"
	}
	last := fullName
	if idx := strings.LastIndex(fullName, "."); idx >= 0 {
		last = fullName[idx+1:]
	}
	if closureSuffix.MatchString(last) {
		return "closure"
	}
	return last
}

func extractModuleAndService(filePath string) (module string, service string) {
	if filePath == "" {
		return "unknown", "unknown"
	}
	base := filepath.Base(filePath)
	service = strings.TrimSuffix(base, filepath.Ext(base))

	parts := strings.Split(filepath.ToSlash(filePath), "/")

	if idx := indexOf(parts, "modules"); idx >= 0 && idx+1 < len(parts) {
		return parts[idx+1], service
	}
	if idx := indexOf(parts, "pkg"); idx >= 0 && idx+1 < len(parts) {
		return "pkg/" + parts[idx+1], service
	}
	if idx := indexOf(parts, "cmd"); idx >= 0 && idx+1 < len(parts) {
		return "cmd", parts[idx+1]
	}
	return "unknown", service
}

func indexOf(parts []string, target string) int {
	for i, p := range parts {
		if p == target {
			return i
		}
	}
	return -1
}

package core

import (
	"strconv"
	"strings"
)

// Severity table for ingested log lines. Codes are fixed; arbitrary numeric
// input snaps to the nearest canonical code.
const (
	LevelTrace    = "TRACE"
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// levelCodes lists canonical levels in ascending code order. Order matters:
// numeric snapping breaks ties toward the earlier entry.
var levelCodes = []struct {
	Name string
	Code int
}{
	{LevelTrace, 0},
	{LevelDebug, 10},
	{LevelInfo, 20},
	{LevelWarning, 30},
	{LevelError, 40},
	{LevelCritical, 50},
}

// levelAliases maps accepted spellings to canonical names.
var levelAliases = map[string]string{
	"WARN":  LevelWarning,
	"ERR":   LevelError,
	"FATAL": LevelCritical,
}

// ResolveLevel normalizes a worker-supplied level into a canonical
// (name, code) pair.
//
// Accepted inputs: canonical names in any case, the aliases WARN/ERR/FATAL,
// and numeric strings (which snap to the nearest code). Anything else
// resolves to INFO.
func ResolveLevel(input string) (string, int) {
	name := strings.ToUpper(strings.TrimSpace(input))
	if name == "" {
		return LevelInfo, 20
	}

	if canonical, ok := levelAliases[name]; ok {
		name = canonical
	}

	for _, lc := range levelCodes {
		if lc.Name == name {
			return lc.Name, lc.Code
		}
	}

	if code, err := strconv.Atoi(name); err == nil {
		return SnapLevelCode(code)
	}

	return LevelInfo, 20
}

// SnapLevelCode maps an arbitrary numeric severity to the nearest canonical
// level. Ties resolve to the first candidate in ascending code order.
func SnapLevelCode(code int) (string, int) {
	best := levelCodes[0]
	bestDiff := absInt(code - best.Code)
	for _, lc := range levelCodes[1:] {
		diff := absInt(code - lc.Code)
		if diff < bestDiff {
			best = lc
			bestDiff = diff
		}
	}
	return best.Name, best.Code
}

// LevelCode returns the code for a canonical or aliased level name and
// whether the name was recognized.
func LevelCode(input string) (int, bool) {
	name := strings.ToUpper(strings.TrimSpace(input))
	if canonical, ok := levelAliases[name]; ok {
		name = canonical
	}
	for _, lc := range levelCodes {
		if lc.Name == name {
			return lc.Code, true
		}
	}
	return 0, false
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

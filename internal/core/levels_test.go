package core

import "testing"

func TestResolveLevel(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
		wantCode int
	}{
		{"INFO", LevelInfo, 20},
		{"info", LevelInfo, 20},
		{"  Error  ", LevelError, 40},
		{"TRACE", LevelTrace, 0},
		{"CRITICAL", LevelCritical, 50},

		// Aliases
		{"WARN", LevelWarning, 30},
		{"warn", LevelWarning, 30},
		{"ERR", LevelError, 40},
		{"FATAL", LevelCritical, 50},

		// Numeric codes snap to the nearest canonical code
		{"0", LevelTrace, 0},
		{"20", LevelInfo, 20},
		{"23", LevelInfo, 20},
		{"38", LevelError, 40},
		{"100", LevelCritical, 50},
		{"-5", LevelTrace, 0},

		// Garbage falls back to INFO
		{"", LevelInfo, 20},
		{"verbose", LevelInfo, 20},
		{"12.5", LevelInfo, 20},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, code := ResolveLevel(tt.input)
			if name != tt.wantName || code != tt.wantCode {
				t.Errorf("ResolveLevel(%q) = (%q, %d), want (%q, %d)",
					tt.input, name, code, tt.wantName, tt.wantCode)
			}
		})
	}
}

func TestSnapLevelCodeTies(t *testing.T) {
	// 5 is equidistant from TRACE (0) and DEBUG (10); ties resolve toward
	// the lower code.
	name, code := SnapLevelCode(5)
	if name != LevelTrace || code != 0 {
		t.Errorf("SnapLevelCode(5) = (%q, %d), want (TRACE, 0)", name, code)
	}

	name, code = SnapLevelCode(25)
	if name != LevelInfo || code != 20 {
		t.Errorf("SnapLevelCode(25) = (%q, %d), want (INFO, 20)", name, code)
	}
}

func TestLevelCode(t *testing.T) {
	if code, ok := LevelCode("warning"); !ok || code != 30 {
		t.Errorf("LevelCode(warning) = (%d, %v), want (30, true)", code, ok)
	}
	if code, ok := LevelCode("WARN"); !ok || code != 30 {
		t.Errorf("LevelCode(WARN) = (%d, %v), want (30, true)", code, ok)
	}
	if _, ok := LevelCode("nope"); ok {
		t.Error("LevelCode(nope) should not be recognized")
	}
	if _, ok := LevelCode("42"); ok {
		t.Error("LevelCode should not accept numeric input")
	}
}

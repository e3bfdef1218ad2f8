package taxonomy

import "testing"

func TestLevel_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		level Level
		want  bool
	}{
		{"critical is valid", LevelCritical, true},
		{"high is valid", LevelHigh, true},
		{"medium is valid", LevelMedium, true},
		{"low is valid", LevelLow, true},
		{"info is invalid", Level("info"), false},
		{"empty is invalid", Level(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.IsValid(); got != tt.want {
				t.Errorf("Level.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_Color(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelCritical, "#ff0000"},
		{LevelHigh, "#ff6600"},
		{LevelMedium, "#ffcc00"},
		{LevelLow, "#00cc00"},
		{Level("bogus"), ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := tt.level.Color(); got != tt.want {
				t.Errorf("Level.Color() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"critical", LevelCritical, false},
		{"low", LevelLow, false},
		{"Critical", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareLevel(t *testing.T) {
	if CompareLevel(LevelCritical, LevelHigh) <= 0 {
		t.Error("critical should rank above high")
	}
	if CompareLevel(LevelLow, LevelMedium) >= 0 {
		t.Error("low should rank below medium")
	}
	if CompareLevel(LevelHigh, LevelHigh) != 0 {
		t.Error("equal levels should compare equal")
	}
}

func TestAllLevels(t *testing.T) {
	levels := AllLevels()
	if len(levels) != 4 {
		t.Fatalf("AllLevels() returned %d levels, want 4", len(levels))
	}
	for i := 1; i < len(levels); i++ {
		if CompareLevel(levels[i-1], levels[i]) <= 0 {
			t.Errorf("AllLevels() not ordered at %d", i)
		}
	}
}

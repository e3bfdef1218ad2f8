package taxonomy

import "fmt"

// Level is a four-tier severity used both for incident severity rules and for
// heat-map color buckets.
type Level string

const (
	// LevelCritical is the top tier (heat score >= 75).
	LevelCritical Level = "critical"

	// LevelHigh is the second tier (50 <= heat score < 75).
	LevelHigh Level = "high"

	// LevelMedium is the third tier (25 <= heat score < 50).
	LevelMedium Level = "medium"

	// LevelLow is the bottom tier (heat score < 25).
	LevelLow Level = "low"
)

// levelWeights maps levels to numeric weights for ordering.
var levelWeights = map[Level]float64{
	LevelCritical: 10.0,
	LevelHigh:     7.5,
	LevelMedium:   5.0,
	LevelLow:      2.5,
}

// levelColors are the ATT&CK Navigator colors for each tier.
var levelColors = map[Level]string{
	LevelCritical: "#ff0000",
	LevelHigh:     "#ff6600",
	LevelMedium:   "#ffcc00",
	LevelLow:      "#00cc00",
}

// IsValid returns true if the level is one of the four tiers.
func (l Level) IsValid() bool {
	switch l {
	case LevelCritical, LevelHigh, LevelMedium, LevelLow:
		return true
	default:
		return false
	}
}

// Weight returns the numeric weight of the level, 0.0 for invalid levels.
func (l Level) Weight() float64 {
	if weight, ok := levelWeights[l]; ok {
		return weight
	}
	return 0.0
}

// Color returns the hex color for the level, empty for invalid levels.
func (l Level) Color() string {
	return levelColors[l]
}

// String returns the string representation of the level.
func (l Level) String() string {
	return string(l)
}

// DisplayName returns a human-readable name for the level.
func (l Level) DisplayName() string {
	switch l {
	case LevelCritical:
		return "Critical"
	case LevelHigh:
		return "High"
	case LevelMedium:
		return "Medium"
	case LevelLow:
		return "Low"
	default:
		return string(l)
	}
}

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(s)
	if !level.IsValid() {
		return "", fmt.Errorf("invalid level: %s", s)
	}
	return level, nil
}

// CompareLevel returns a negative number when l1 < l2, zero when equal and a
// positive number when l1 > l2.
func CompareLevel(l1, l2 Level) int {
	w1, w2 := l1.Weight(), l2.Weight()
	if w1 < w2 {
		return -1
	}
	if w1 > w2 {
		return 1
	}
	return 0
}

// AllLevels returns the levels from critical to low.
func AllLevels() []Level {
	return []Level{
		LevelCritical,
		LevelHigh,
		LevelMedium,
		LevelLow,
	}
}

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/threaterr"
)

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"syntax error", `title.contains(`},
		{"unknown variable", `severity == "high"`},
		{"non-bool result", `title + description`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.expr)
			assert.Nil(t, f)
			assert.True(t, threaterr.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestFilter_Matches(t *testing.T) {
	ransomware := incident.New("inc-1", "LockBit Ransomware", "Lender encrypted").WithAttribute("region", "eu")
	phishing := incident.New("inc-2", "Phishing wave", "").WithAttribute("region", "us")

	tests := []struct {
		name string
		expr string
		inc  incident.Incident
		want bool
	}{
		{"empty matches all", "", phishing, true},
		{"whitespace matches all", "   ", ransomware, true},
		{"normalized text", `text.contains("ransomware")`, ransomware, true},
		{"raw title is case sensitive", `title.contains("ransomware")`, ransomware, false},
		{"attribute equality", `attributes["region"] == "eu"`, ransomware, true},
		{"attribute mismatch", `attributes["region"] == "eu"`, phishing, false},
		{"has attribute", `"region" in attributes`, phishing, true},
		{"id prefix", `id.startsWith("inc-")`, phishing, true},
		{"combined", `text.contains("phishing") && attributes["region"] != "eu"`, phishing, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.expr)
			require.NoError(t, err)

			got, err := f.Matches(tt.inc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_MissingAttributeIsError(t *testing.T) {
	f := MustCompile(`attributes["source"] == "rss"`)

	got, err := f.Matches(incident.New("inc-1", "title", ""))
	assert.Error(t, err)
	assert.False(t, got)
}

func TestFilter_Nil(t *testing.T) {
	var f *Filter

	got, err := f.Matches(incident.New("a", "b", ""))
	require.NoError(t, err)
	assert.True(t, got)
	assert.Empty(t, f.String())
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("1 + 1") })
	assert.Equal(t, `id == "x"`, MustCompile(` id == "x" `).String())
}

package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/taxonomy"
	"github.com/zero-day-ai/threatmap/threaterr"
)

func newDefault(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(taxonomy.Default())
	require.NoError(t, err)
	return c
}

func TestNew_NilModel(t *testing.T) {
	c, err := New(nil)
	assert.Nil(t, c)
	assert.True(t, threaterr.IsConfiguration(err))
}

func TestClassify_Ransomware(t *testing.T) {
	c := newDefault(t)

	res, err := c.Classify(incident.New("inc-a", "Ransomware attack encrypts data, ransom demanded", ""))
	require.NoError(t, err)

	assert.Equal(t, "inc-a", res.IncidentID)
	assert.Equal(t, taxonomy.DefaultVersion, res.TaxonomyVersion)
	assert.Equal(t, MethodAutomated, res.Method)

	assert.Equal(t, Match{Category: "malware", Subcategory: "ransomware", Total: 7, Confidence: 1.0}, res.Technology)
	assert.False(t, res.Human.Matched())
	assert.False(t, res.Procedural.Matched())
	assert.InDelta(t, 1.0/3.0, res.Confidence, 1e-9)

	assert.Equal(t, taxonomy.LevelCritical, res.Severity)
	assert.Empty(t, res.Subsectors)
	assert.NoError(t, res.Validate())
}

func TestClassify_SpearPhishing(t *testing.T) {
	c := newDefault(t)

	res, err := c.Classify(incident.New("inc-b", "Employees targeted by spear phishing email", ""))
	require.NoError(t, err)

	// "phishing" and "spear phishing" both hit the category list and the
	// phishing subcategory hits twice (phishing, phish): 2 + 2*2 beats the
	// spear_phishing subcategory's 2 + 2*1.
	assert.Equal(t, Match{Category: "social_engineering", Subcategory: "phishing", Total: 6, Confidence: 1.0}, res.Human)

	// "ai" is a substring of "email".
	assert.Equal(t, Match{Category: "emerging", Subcategory: "ai_ml", Total: 1, Confidence: 0.2}, res.Technology)

	assert.False(t, res.Procedural.Matched())
	assert.InDelta(t, 0.4, res.Confidence, 1e-9)
	assert.Equal(t, taxonomy.LevelMedium, res.Severity)
}

func TestClassify_NoMatch(t *testing.T) {
	c := newDefault(t)

	res, err := c.Classify(incident.New("inc-c", "Quarterly newsletter published", ""))
	require.NoError(t, err)

	for _, name := range taxonomy.DimensionNames() {
		m, ok := res.Dimension(name)
		require.True(t, ok)
		assert.Equal(t, Match{}, m, name)
	}
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.Severity)
	assert.Empty(t, res.Subsectors)
	assert.NoError(t, res.Validate())
}

func TestClassify_InvalidTitle(t *testing.T) {
	c := newDefault(t)

	for _, title := range []string{"", "   ", "\t\n"} {
		res, err := c.Classify(incident.New("bad", title, "ransomware everywhere"))
		assert.Nil(t, res)
		assert.True(t, threaterr.IsInvalidInput(err), "title %q", title)
	}
}

func TestClassifyText_EmptyText(t *testing.T) {
	c := newDefault(t)

	res := c.ClassifyText("empty", "")
	assert.Zero(t, res.Confidence)
	assert.False(t, res.Technology.Matched())
	assert.False(t, res.Human.Matched())
	assert.False(t, res.Procedural.Matched())
}

func TestClassify_Deterministic(t *testing.T) {
	c := newDefault(t)
	inc := incident.New("inc-d", "Insider exfiltrates card data via third-party vendor", "PCI violation reported late")

	first, err := c.Classify(inc)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := c.Classify(inc)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestClassify_SeverityAndSubsectors(t *testing.T) {
	tests := []struct {
		name           string
		title          string
		wantSeverity   taxonomy.Level
		wantSubsectors []string
	}{
		{
			name:         "highest rule wins",
			title:        "Phishing leads to ransomware",
			wantSeverity: taxonomy.LevelCritical,
		},
		{
			name:         "high rule",
			title:        "Data breach disclosed",
			wantSeverity: taxonomy.LevelHigh,
		},
		{
			name:         "low rule",
			title:        "Vendor advisory",
			wantSeverity: taxonomy.LevelLow,
		},
		{
			name:           "subsectors in declaration order",
			title:          "Stripe payment outage hits neobank",
			wantSubsectors: []string{"digital_banking", "payment_processor"},
		},
		{
			name:           "crypto exchange",
			title:          "Coinbase users hit",
			wantSubsectors: []string{"crypto_exchange"},
		},
	}

	c := newDefault(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Classify(incident.New("x", tt.title, ""))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSeverity, res.Severity)
			assert.Equal(t, tt.wantSubsectors, res.Subsectors)
		})
	}
}

func TestClassify_ConfidenceBounds(t *testing.T) {
	c := newDefault(t)
	titles := []string{
		"x",
		"Ransomware trojan malware virus worm spyware backdoor rootkit lockbit blackcat emotet trickbot",
		"GDPR PCI DORA PSD2 SOX violation after MFA bypass by rogue employee via phishing",
		"AI deepfake voice clone of CEO requests wire transfer",
	}

	for _, title := range titles {
		res, err := c.Classify(incident.New("b", title, ""))
		require.NoError(t, err)
		assert.NoError(t, res.Validate(), title)
		assert.GreaterOrEqual(t, res.Confidence, 0.0)
		assert.LessOrEqual(t, res.Confidence, 1.0)
	}
}

func TestResult_Dimension(t *testing.T) {
	res := &Result{
		Technology: Match{Category: "malware"},
		Human:      Match{Category: "insider"},
		Procedural: Match{Category: "compliance"},
	}

	m, ok := res.Dimension(taxonomy.DimensionHuman)
	assert.True(t, ok)
	assert.Equal(t, "insider", m.Category)

	_, ok = res.Dimension("physical")
	assert.False(t, ok)
}

func TestResult_Validate(t *testing.T) {
	tests := []struct {
		name    string
		res     Result
		wantErr string
	}{
		{
			name: "valid",
			res:  Result{IncidentID: "a", Confidence: 0.5, Technology: Match{Category: "c", Subcategory: "s", Total: 3, Confidence: 0.6}},
		},
		{
			name:    "missing id",
			res:     Result{},
			wantErr: "incident ID is required",
		},
		{
			name:    "overall out of range",
			res:     Result{IncidentID: "a", Confidence: 1.5},
			wantErr: "confidence must be between",
		},
		{
			name:    "dimension out of range",
			res:     Result{IncidentID: "a", Human: Match{Category: "c", Subcategory: "s", Confidence: -0.1}},
			wantErr: "human confidence",
		},
		{
			name:    "category without subcategory",
			res:     Result{IncidentID: "a", Procedural: Match{Category: "c"}},
			wantErr: "procedural category and subcategory",
		},
		{
			name:    "bad severity",
			res:     Result{IncidentID: "a", Severity: "extreme"},
			wantErr: "invalid severity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.res.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

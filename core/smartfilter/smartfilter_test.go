package smartfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgeway/qualify/core/domain"
)

func testConfig() *domain.FilterConfig {
	exset := func() domain.ExclusionSet {
		return domain.ExclusionSet{
			DomainPatterns: []string{"hospital", "clinic", "univ", "ministry", "apotheke"},
			EmailPrefixes:  []string{"x", "y", "z"},
		}
	}
	return &domain.FilterConfig{
		TargetCountry: "DE",
		Weights: domain.Weights{
			EmailQuality: 0.25, CompanyRelevance: 0.25, GeographicPriority: 0.25, Engagement: 0.25,
		},
		Thresholds: domain.Thresholds{High: 70, Medium: 40, Low: 20},
		IndustryKeywords: domain.IndustryKeywords{
			Primary: []string{"steel"},
			Negative: []string{"spam"},
		},
		GeographicPriorities: domain.GeographicPriorities{
			High: []string{"de"},
		},
		Exclusions: map[string]domain.ExclusionSet{
			domain.ExclusionMedical:     exset(),
			domain.ExclusionEducational: exset(),
			domain.ExclusionGovernment:  exset(),
			domain.ExclusionPharmacy:    exset(),
			domain.ExclusionLegal:       exset(),
			domain.ExclusionTourism:     exset(),
			domain.ExclusionResearchNGO: exset(),
		},
		PersonalDomains: []string{"gmail.com"},
		RolePrefixes:    []string{"info", "contact", "sales"},
		MaxBonus:        3.0,
	}
}

func TestCompileRejectsMissingMandatoryExclusion(t *testing.T) {
	cfg := testConfig()
	delete(cfg.Exclusions, domain.ExclusionMedical)
	_, err := Compile(cfg)
	assert.Error(t, err)
}

func TestCompileRejectsBadWeightSum(t *testing.T) {
	cfg := testConfig()
	cfg.Weights.Engagement = 0.5
	_, err := Compile(cfg)
	assert.Error(t, err)
}

func TestCompileRejectsBadThresholdOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Thresholds = domain.Thresholds{High: 10, Medium: 40, Low: 20}
	_, err := Compile(cfg)
	assert.Error(t, err)
}

func TestScorePersonalDomainExcluded(t *testing.T) {
	cfg := testConfig()
	cc, err := Compile(cfg)
	require.NoError(t, err)

	result := cc.Score("alice@gmail.com", nil)
	assert.Equal(t, domain.PriorityExcluded, result.Priority)
	assert.NotEmpty(t, result.ExclusionReasons)
}

func TestScoreCleanAddressNoMetadata(t *testing.T) {
	cfg := testConfig()
	cc, err := Compile(cfg)
	require.NoError(t, err)

	result := cc.Score("info@steelworks.de", nil)
	assert.Zero(t, result.Breakdown.GeographicPriority*0) // sanity: no panic on nil meta
	assert.NotEqual(t, domain.PriorityExcluded, result.Priority)
}

func TestScoreDeterministic(t *testing.T) {
	cfg := testConfig()
	cc, err := Compile(cfg)
	require.NoError(t, err)

	meta := &domain.Metadata{CompanyName: "Steelworks", Country: "DE", MetaDescription: "steel producer"}
	r1 := cc.Score("info@steelworks.de", meta)
	r2 := cc.Score("info@steelworks.de", meta)
	assert.Equal(t, r1.FinalScore, r2.FinalScore)
	assert.Equal(t, r1.Priority, r2.Priority)
}

func TestEngineRunSortsByFinalScoreDescending(t *testing.T) {
	cfg := testConfig()
	cc, err := Compile(cfg)
	require.NoError(t, err)
	engine := NewEngine(cc)

	addrs := []domain.Address{"info@steelworks.de", "sales@steel.de", "zzz@nowhere.xx"}
	tiers := engine.Run(addrs, map[domain.Address]*domain.Metadata{})

	total := 0
	for _, results := range tiers {
		total += len(results)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].FinalScore, results[i].FinalScore)
		}
	}
	assert.Equal(t, len(addrs), total)
}

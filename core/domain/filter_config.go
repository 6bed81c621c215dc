package domain

// Mandatory exclusion category names. All seven must be present in a
// FilterConfig or loading fails with InvalidConfig before any scoring I/O.
const (
	ExclusionMedical      = "medical"
	ExclusionEducational  = "educational"
	ExclusionGovernment   = "government"
	ExclusionPharmacy     = "pharmacy"
	ExclusionLegal        = "legal"
	ExclusionTourism      = "tourism"
	ExclusionResearchNGO  = "research_ngo"
)

// MandatoryExclusionCategories lists the seven categories the loader checks
// for completeness.
var MandatoryExclusionCategories = []string{
	ExclusionMedical,
	ExclusionEducational,
	ExclusionGovernment,
	ExclusionPharmacy,
	ExclusionLegal,
	ExclusionTourism,
	ExclusionResearchNGO,
}

// FilterConfig is the structured scoring configuration consumed by the Smart
// Filter Engine. It is authored as YAML and validated in full
// before any I/O begins.
type FilterConfig struct {
	Name            string   `yaml:"name"`
	Version         string   `yaml:"version"`
	TargetCountry   string   `yaml:"target_country"`
	TargetIndustry  string   `yaml:"target_industry"`
	LanguageCodes   []string `yaml:"language_codes"`

	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`

	IndustryKeywords     IndustryKeywords          `yaml:"industry_keywords"`
	GeographicPriorities GeographicPriorities      `yaml:"geographic_priorities"`
	Exclusions           map[string]ExclusionSet   `yaml:"exclusions"`

	PersonalDomains        []string `yaml:"personal_domains"`
	ServicePrefixes        []string `yaml:"service_prefixes"`
	ExcludedCountryDomains []string `yaml:"excluded_country_domains"`
	SuspiciousRegexes      []string `yaml:"suspicious_regexes"`

	RolePrefixes []string `yaml:"role_prefixes"` // e.g. info, contact, sales

	Bonuses   BonusConfig `yaml:"bonuses"`
	MaxBonus  float64     `yaml:"max_bonus"` // default 3.0
}

// Weights must sum to 1.0 ± 1e-6.
type Weights struct {
	EmailQuality        float64 `yaml:"email_quality"`
	CompanyRelevance     float64 `yaml:"company_relevance"`
	GeographicPriority   float64 `yaml:"geographic_priority"`
	Engagement           float64 `yaml:"engagement"`
}

// Sum totals the four component weights.
func (w Weights) Sum() float64 {
	return w.EmailQuality + w.CompanyRelevance + w.GeographicPriority + w.Engagement
}

// Thresholds must satisfy High > Medium > Low >= 0.
type Thresholds struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// IndustryKeywords buckets feed the company-relevance component.
type IndustryKeywords struct {
	Primary    []string `yaml:"primary"`
	Secondary  []string `yaml:"secondary"`
	Processes  []string `yaml:"processes"`
	Materials  []string `yaml:"materials"`
	Negative   []string `yaml:"negative"`
}

// GeographicPriorities are ordered tiers matched against domain, metadata
// country/city, or TLD.
type GeographicPriorities struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
	Low    []string `yaml:"low"`
}

// ExclusionSet is one of the seven mandatory categories plus any custom one.
type ExclusionSet struct {
	DomainPatterns []string `yaml:"domain_patterns"` // >= 5 required for mandatory categories
	EmailPrefixes  []string `yaml:"email_prefixes"`  // >= 3 required for mandatory categories
	Keywords       []string `yaml:"keywords"`
	MinimumHits    int      `yaml:"minimum_hits,omitempty"`
}

// BonusConfig lists the multiplicative bonuses applied after raw scoring.
type BonusConfig struct {
	OEMIndicators      []string `yaml:"oem_indicators"`
	OEMMultiplier      float64  `yaml:"oem_multiplier"`       // default 1.3
	TargetCountryBonus float64  `yaml:"target_country_bonus"` // default 2.0
	SpecialtyKeywords  []string `yaml:"specialty_keywords"`
	SpecialtyMultiplier float64 `yaml:"specialty_multiplier"` // default 1.5
}

// Priority is the tier assigned to a scored clean address.
type Priority string

const (
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
	PriorityExcluded Priority = "EXCLUDED"
)

// ScoreBreakdown holds the four component subscores plus applied bonuses,
// for the exclusion/scoring CSV report.
type ScoreBreakdown struct {
	EmailQuality      float64
	CompanyRelevance   float64
	GeographicPriority float64
	Engagement         float64
	BonusProduct       float64
	AppliedBonuses     []string
}

// ScoreResult is the per-address output of the Smart Filter Engine.
type ScoreResult struct {
	Address          Address
	RawScore         float64
	FinalScore       float64
	Priority         Priority
	Breakdown        ScoreBreakdown
	ExclusionReasons []string
}

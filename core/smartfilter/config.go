// Package smartfilter implements the Smart Filter (Scoring) Engine: a
// deterministic, multi-component weighted scorer that partitions clean
// addresses into priority tiers. The component-score constant tables and
// clamped weighted-sum style follow a classification-package idiom;
// the difference here is the score is computed once per address from config
// data, never iterated as a staged pipeline with early exit — hard
// exclusions play that early-exit role instead (checked first, before any
// component score is computed).
package smartfilter

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/pkg/apperr"
)

const weightSumTolerance = 1e-6

// compiledExclusion is one exclusion category with its patterns lower-cased
// once at load time, so the hot scoring path never re-folds case.
type compiledExclusion struct {
	name           string
	domainPatterns []string
	emailPrefixes  []string
	keywords       []string
}

// CompiledConfig is a FilterConfig that has passed validation and had its
// pattern sets prepared for matching.
type CompiledConfig struct {
	raw *domain.FilterConfig

	exclusions      []compiledExclusion
	personalDomains map[string]bool
	servicePrefixes []string
	excludedTLDs    map[string]bool
	suspicious      []*regexp.Regexp

	rolePrefixes []string

	oemIndicators     []string
	specialtyKeywords []string
}

// Compile validates a FilterConfig as a one-time build-time check and
// prepares it for repeated scoring calls. It fails fast with InvalidConfig
// before any Smart Filter I/O begins.
func Compile(cfg *domain.FilterConfig) (*CompiledConfig, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	cc := &CompiledConfig{
		raw:             cfg,
		personalDomains: toSet(cfg.PersonalDomains),
		servicePrefixes: lower(cfg.ServicePrefixes),
		excludedTLDs:    toSet(cfg.ExcludedCountryDomains),
		rolePrefixes:    lower(cfg.RolePrefixes),
		oemIndicators:      lower(cfg.Bonuses.OEMIndicators),
		specialtyKeywords:  lower(cfg.Bonuses.SpecialtyKeywords),
	}

	for _, name := range domain.MandatoryExclusionCategories {
		set := cfg.Exclusions[name]
		cc.exclusions = append(cc.exclusions, compiledExclusion{
			name:           name,
			domainPatterns: lower(set.DomainPatterns),
			emailPrefixes:  lower(set.EmailPrefixes),
			keywords:       lower(set.Keywords),
		})
	}
	for name, set := range cfg.Exclusions {
		if isMandatory(name) {
			continue
		}
		cc.exclusions = append(cc.exclusions, compiledExclusion{
			name:           name,
			domainPatterns: lower(set.DomainPatterns),
			emailPrefixes:  lower(set.EmailPrefixes),
			keywords:       lower(set.Keywords),
		})
	}

	for _, pattern := range cfg.SuspiciousRegexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, apperr.InvalidConfig(fmt.Sprintf("suspicious_regexes: %v", err))
		}
		cc.suspicious = append(cc.suspicious, re)
	}

	return cc, nil
}

func validate(cfg *domain.FilterConfig) error {
	if cfg == nil {
		return apperr.InvalidConfig("config is nil")
	}

	for _, name := range domain.MandatoryExclusionCategories {
		set, ok := cfg.Exclusions[name]
		if !ok {
			return apperr.InvalidConfig("missing mandatory exclusion category: " + name)
		}
		if len(set.DomainPatterns) < 5 {
			return apperr.InvalidConfig(name + ": requires >= 5 domain_patterns")
		}
		if len(set.EmailPrefixes) < 3 {
			return apperr.InvalidConfig(name + ": requires >= 3 email_prefixes")
		}
	}

	sum := cfg.Weights.Sum()
	if math.Abs(sum-1.0) > weightSumTolerance {
		return apperr.InvalidConfig(fmt.Sprintf("weights must sum to 1.0 +/- 1e-6, got %f", sum))
	}

	t := cfg.Thresholds
	if !(t.High > t.Medium && t.Medium > t.Low && t.Low >= 0) {
		return apperr.InvalidConfig("thresholds must satisfy high > medium > low >= 0")
	}

	if cfg.Bonuses.OEMMultiplier != 0 && cfg.Bonuses.OEMMultiplier <= 0 {
		return apperr.InvalidConfig("oem_multiplier must be positive")
	}
	if cfg.Bonuses.TargetCountryBonus != 0 && cfg.Bonuses.TargetCountryBonus <= 0 {
		return apperr.InvalidConfig("target_country_bonus must be positive")
	}
	if cfg.Bonuses.SpecialtyMultiplier != 0 && cfg.Bonuses.SpecialtyMultiplier <= 0 {
		return apperr.InvalidConfig("specialty_multiplier must be positive")
	}

	return nil
}

func isMandatory(name string) bool {
	for _, m := range domain.MandatoryExclusionCategories {
		if m == name {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = true
	}
	return out
}

func lower(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

func (cc *CompiledConfig) maxBonus() float64 {
	if cc.raw.MaxBonus <= 0 {
		return 3.0
	}
	return cc.raw.MaxBonus
}

package smartfilter

import (
	"sort"
	"strings"
	"unicode"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/core/normalize"
)

// builtinPersonalProviders is the catalogue consulted by the email-quality
// component in addition to any config-supplied personal_domains.
var builtinPersonalProviders = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "hotmail.com": true,
	"outlook.com": true, "aol.com": true, "icloud.com": true,
	"live.com": true, "protonmail.com": true,
}

// Score evaluates one clean address against the compiled config, applying
// hard exclusions first. meta may be nil.
func (cc *CompiledConfig) Score(addr domain.Address, meta *domain.Metadata) domain.ScoreResult {
	if reasons := cc.hardExclusions(addr); len(reasons) > 0 {
		return domain.ScoreResult{
			Address:          addr,
			Priority:         domain.PriorityExcluded,
			ExclusionReasons: reasons,
		}
	}

	email := cc.scoreEmailQuality(addr)
	company := cc.scoreCompanyRelevance(addr, meta)
	geo := cc.scoreGeographicPriority(addr, meta)
	engagement := cc.scoreEngagement(meta)

	w := cc.raw.Weights
	rawScore := w.EmailQuality*email + w.CompanyRelevance*company + w.GeographicPriority*geo + w.Engagement*engagement

	bonusProduct, applied := cc.bonusProduct(addr, meta)
	finalScore := rawScore * bonusProduct

	priority := cc.assignPriority(finalScore)

	result := domain.ScoreResult{
		Address:    addr,
		RawScore:   rawScore,
		FinalScore: finalScore,
		Priority:   priority,
		Breakdown: domain.ScoreBreakdown{
			EmailQuality:       email,
			CompanyRelevance:   company,
			GeographicPriority: geo,
			Engagement:         engagement,
			BonusProduct:       bonusProduct,
			AppliedBonuses:     applied,
		},
	}
	if priority == domain.PriorityExcluded {
		result.ExclusionReasons = []string{"below-threshold"}
	}
	return result
}

// hardExclusions checks the five rules, in order, and returns every
// matching category — not just the first.
func (cc *CompiledConfig) hardExclusions(addr domain.Address) []string {
	var reasons []string

	local := strings.ToLower(addr.LocalPart())
	domainStr := strings.ToLower(addr.Domain())
	full := strings.ToLower(addr.String())

	for _, p := range cc.servicePrefixes {
		if strings.HasPrefix(local, p) {
			reasons = append(reasons, "service_prefix:"+p)
			break
		}
	}

	if cc.personalDomains[domainStr] {
		reasons = append(reasons, "personal_domain:"+domainStr)
	}

	tld := normalize.TLD(domainStr)
	if cc.excludedTLDs[tld] {
		reasons = append(reasons, "excluded_country_domain:"+tld)
	}

	for _, ex := range cc.exclusions {
		matched := false
		for _, pat := range ex.domainPatterns {
			if pat != "" && strings.Contains(domainStr, pat) {
				matched = true
				break
			}
		}
		if !matched {
			for _, pfx := range ex.emailPrefixes {
				if pfx != "" && strings.HasPrefix(local, pfx) {
					matched = true
					break
				}
			}
		}
		if matched {
			reasons = append(reasons, "exclusion:"+ex.name)
		}
	}

	for _, re := range cc.suspicious {
		if re.MatchString(full) {
			reasons = append(reasons, "suspicious_regex:"+re.String())
			break
		}
	}

	return reasons
}

// scoreEmailQuality implements the +40/+20/+20/+10/-10 rule set,
// clipped to [0,100].
func (cc *CompiledConfig) scoreEmailQuality(addr domain.Address) float64 {
	var score float64
	domainStr := strings.ToLower(addr.Domain())
	local := strings.ToLower(addr.LocalPart())

	if !builtinPersonalProviders[domainStr] && !cc.personalDomains[domainStr] {
		score += 40
	}
	for _, role := range cc.rolePrefixes {
		if role != "" && strings.HasPrefix(local, role) {
			score += 20
			break
		}
	}
	if len(local) >= 3 {
		score += 20
	}
	tld := normalize.TLD(domainStr)
	if tld != "" && tld != "com" && tld != "net" && tld != "org" &&
		strings.EqualFold(tld, strings.ToLower(cc.raw.TargetCountry)) {
		score += 10
	}
	if isAllDigits(local) {
		score -= 10
	}

	return clip(score, 0, 100)
}

// scoreCompanyRelevance implements the per-bucket keyword-hit rule set,
// capped at 100 and floored at 0.
func (cc *CompiledConfig) scoreCompanyRelevance(addr domain.Address, meta *domain.Metadata) float64 {
	tokens := domainTokens(addr.Domain())
	if meta != nil {
		tokens = append(tokens, tokenize(meta.MetaDescription)...)
		tokens = append(tokens, tokenize(meta.CompanyName)...)
		tokens = append(tokens, tokenize(meta.MetaKeywords)...)
	}

	var score float64
	kw := cc.raw.IndustryKeywords
	score += 10 * countHits(tokens, kw.Primary)
	score += 5 * countHits(tokens, kw.Secondary)
	score += 3 * countHits(tokens, kw.Processes)
	score += 3 * countHits(tokens, kw.Materials)
	score -= 15 * countHits(tokens, kw.Negative)

	return clip(score, 0, 100)
}

// scoreGeographicPriority implements the tiered 80/40/10/0 rule.
func (cc *CompiledConfig) scoreGeographicPriority(addr domain.Address, meta *domain.Metadata) float64 {
	candidates := []string{strings.ToLower(addr.Domain()), normalize.TLD(strings.ToLower(addr.Domain()))}
	if meta != nil {
		candidates = append(candidates, strings.ToLower(meta.Country), strings.ToLower(meta.City))
	}

	gp := cc.raw.GeographicPriorities
	if anyMatches(candidates, gp.High) {
		return 80
	}
	if anyMatches(candidates, gp.Medium) {
		return 40
	}
	if anyMatches(candidates, gp.Low) {
		return 10
	}
	return 0
}

// scoreEngagement implements the 60-base +/-20 rule set.
func (cc *CompiledConfig) scoreEngagement(meta *domain.Metadata) float64 {
	score := 60.0
	if meta == nil {
		return clip(score, 0, 100)
	}
	if meta.MetaDescription != "" {
		score += 20
	}
	if meta.CompanyName != "" {
		score += 20
	}
	if isSoftFailure(meta.ValidationStatus) {
		score -= 20
	}
	return clip(score, 0, 100)
}

// bonusProduct applies every matching multiplicative bonus, capped at the
// config's max_bonus ceiling (default 3.0).
func (cc *CompiledConfig) bonusProduct(addr domain.Address, meta *domain.Metadata) (float64, []string) {
	product := 1.0
	var applied []string

	domainStr := strings.ToLower(addr.Domain())
	var descTokens string
	if meta != nil {
		descTokens = strings.ToLower(meta.MetaDescription + " " + meta.CompanyName + " " + meta.MetaKeywords)
	}

	oemMult := cc.raw.Bonuses.OEMMultiplier
	if oemMult == 0 {
		oemMult = 1.3
	}
	for _, ind := range cc.oemIndicators {
		if ind != "" && (strings.Contains(domainStr, ind) || strings.Contains(descTokens, ind)) {
			product *= oemMult
			applied = append(applied, "oem_indicator")
			break
		}
	}

	countryBonus := cc.raw.Bonuses.TargetCountryBonus
	if countryBonus == 0 {
		countryBonus = 2.0
	}
	if cc.raw.TargetCountry != "" && meta != nil &&
		strings.EqualFold(meta.Country, cc.raw.TargetCountry) {
		product *= countryBonus
		applied = append(applied, "target_country_strong_match")
	}

	specialtyMult := cc.raw.Bonuses.SpecialtyMultiplier
	if specialtyMult == 0 {
		specialtyMult = 1.5
	}
	for _, kw := range cc.specialtyKeywords {
		if kw != "" && strings.Contains(descTokens, kw) {
			product *= specialtyMult
			applied = append(applied, "specialty_domain_keyword")
			break
		}
	}

	if ceiling := cc.maxBonus(); product > ceiling {
		product = ceiling
	}
	return product, applied
}

// assignPriority implements the threshold ladder; ties resolve to
// the higher tier since each comparison is >=.
func (cc *CompiledConfig) assignPriority(finalScore float64) domain.Priority {
	t := cc.raw.Thresholds
	switch {
	case finalScore >= t.High:
		return domain.PriorityHigh
	case finalScore >= t.Medium:
		return domain.PriorityMedium
	case finalScore >= t.Low:
		return domain.PriorityLow
	default:
		return domain.PriorityExcluded
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isSoftFailure(status string) bool {
	s := strings.ToLower(status)
	switch s {
	case "soft_bounce", "soft-bounce", "risky", "unknown", "catch_all", "catch-all":
		return true
	default:
		return false
	}
}

func domainTokens(d string) []string {
	return strings.FieldsFunc(strings.ToLower(d), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func countHits(tokens []string, vocabulary []string) float64 {
	if len(vocabulary) == 0 {
		return 0
	}
	vocab := make(map[string]bool, len(vocabulary))
	for _, v := range vocabulary {
		vocab[strings.ToLower(v)] = true
	}
	var hits float64
	for _, t := range tokens {
		if vocab[t] {
			hits++
		}
	}
	return hits
}

func anyMatches(candidates []string, terms []string) bool {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, t := range terms {
			if t != "" && strings.Contains(c, strings.ToLower(t)) {
				return true
			}
		}
	}
	return false
}

// sortResults orders ScoreResults by final_score descending, then address
// ascending for determinism.
func sortResults(results []domain.ScoreResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].Address < results[j].Address
	})
}

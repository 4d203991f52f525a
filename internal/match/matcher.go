package match

import "strings"

// Rule names the matcher rule that produced a result.
type Rule string

const (
	RuleOverrideRequired Rule = "override_requerido"
	RuleOverrideExcluded Rule = "override_excluido"
	RuleInvalidName      Rule = "nombre_invalido"
	RuleCompoundSurname  Rule = "apellido_compuesto"
	RuleNameAndSurname   Rule = "nombre_y_apellido"
	RulePrimarySurname   Rule = "apellido_paterno"
	RuleSingleWord       Rule = "single_word_match"
	RuleKeyword          Rule = "palabra_clave"
	RuleNoMatch          Rule = "no_match_estricto"
)

// Result is the outcome of matching a headline against a candidate name.
// Span is nil when the headline was rejected.
type Result struct {
	Accepted   bool    `json:"accepted"`
	Span       *string `json:"matched_span"`
	Confidence int     `json:"confidence"`
	Rule       Rule    `json:"rule"`
}

// Matcher decides whether a headline refers to a candidate. The zero value
// applies only the general rules.
type Matcher struct {
	overrides Overrides
}

// NewMatcher returns a Matcher that consults overrides before the general rules.
func NewMatcher(overrides Overrides) *Matcher {
	return &Matcher{overrides: overrides}
}

// Match evaluates the rules in precedence order; the first satisfied rule wins.
func (m *Matcher) Match(fullName, headline string) Result {
	normHeadline := Normalize(headline)
	headTokens := tokenSet(normHeadline)

	if m != nil {
		if res, ok := m.overrides.apply(Normalize(fullName), normHeadline); ok {
			return res
		}
	}

	clean := CleanTokens(fullName)
	if len(clean) < 1 {
		return reject(RuleInvalidName)
	}

	if len(clean) >= 3 {
		compound := clean[len(clean)-2] + " " + clean[len(clean)-1]
		if containsPhrase(normHeadline, compound) {
			return accept(RuleCompoundSurname, compound)
		}
	}

	if len(clean) >= 2 {
		given := clean[0]
		primary := clean[len(clean)-2]
		if len(clean) == 2 {
			primary = clean[1]
		}
		secondary := clean[len(clean)-1]

		_, hasPrimary := headTokens[primary]
		_, hasSecondary := headTokens[secondary]
		if _, ok := headTokens[given]; ok && (hasPrimary || hasSecondary) {
			span := []string{given}
			if hasPrimary {
				span = append(span, primary)
			}
			if hasSecondary && secondary != primary {
				span = append(span, secondary)
			}
			return accept(RuleNameAndSurname, strings.Join(span, " "))
		}

		if hasPrimary {
			return accept(RulePrimarySurname, primary)
		}
		return reject(RuleNoMatch)
	}

	if _, ok := headTokens[clean[0]]; ok {
		return accept(RuleSingleWord, clean[0])
	}
	return reject(RuleNoMatch)
}

// KeywordMatch accepts the headline when any normalized keyword occurs in it
// as a phrase. Empty keywords are ignored.
func KeywordMatch(keywords []string, headline string) Result {
	normHeadline := Normalize(headline)
	for _, kw := range keywords {
		kw = Normalize(kw)
		if kw == "" {
			continue
		}
		if containsPhrase(normHeadline, kw) {
			return accept(RuleKeyword, kw)
		}
	}
	return reject(RuleNoMatch)
}

func accept(rule Rule, span string) Result {
	return Result{Accepted: true, Span: &span, Confidence: 100, Rule: rule}
}

func reject(rule Rule) Result {
	return Result{Rule: rule}
}

func tokenSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// containsPhrase reports whether phrase appears in the normalized text.
func containsPhrase(normalized, phrase string) bool {
	return phrase != "" && strings.Contains(normalized, phrase)
}

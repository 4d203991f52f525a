package match

// Override is a disambiguation rule for one candidate. A headline containing
// any Exclude phrase is rejected; one containing any Require phrase is
// accepted. When Require is set and none of its phrases occur, the headline
// is rejected.
type Override struct {
	Require []string `mapstructure:"require" yaml:"require"`
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
}

// Overrides maps a normalized candidate name to its override rule.
type Overrides map[string]Override

// NewOverrides builds an override table, normalizing names and phrases.
func NewOverrides(raw map[string]Override) Overrides {
	out := make(Overrides, len(raw))
	for name, o := range raw {
		key := Normalize(name)
		if key == "" {
			continue
		}
		out[key] = Override{
			Require: normalizeAll(o.Require),
			Exclude: normalizeAll(o.Exclude),
		}
	}
	return out
}

// DefaultOverrides covers the name collisions known to the general rules.
func DefaultOverrides() Overrides {
	return NewOverrides(map[string]Override{
		"Gustavo Bolívar": {Exclude: []string{"Simón Bolívar"}},
	})
}

// apply returns a decisive result when an override exists for name.
func (o Overrides) apply(name, normHeadline string) (Result, bool) {
	rule, ok := o[name]
	if !ok {
		return Result{}, false
	}
	for _, phrase := range rule.Exclude {
		if containsPhrase(normHeadline, phrase) {
			return reject(RuleOverrideExcluded), true
		}
	}
	for _, phrase := range rule.Require {
		if containsPhrase(normHeadline, phrase) {
			return accept(RuleOverrideRequired, phrase), true
		}
	}
	if len(rule.Require) > 0 {
		return reject(RuleOverrideExcluded), true
	}
	return Result{}, false
}

func normalizeAll(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = Normalize(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

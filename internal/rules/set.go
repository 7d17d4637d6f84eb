package rules

import "sort"

// Set is an immutable snapshot of compiled rules plus the ones rejected at load.
type Set struct {
	rules   []Rule
	byID    map[string]Rule
	invalid map[string]*ValidationError
}

func NewSet(reg *Registry, defs []Definition) *Set {
	set := &Set{byID: map[string]Rule{}, invalid: map[string]*ValidationError{}}
	for _, def := range defs {
		if _, dup := set.byID[def.ID]; dup {
			set.invalid[def.ID] = &ValidationError{
				Code:    "RULE_DUPLICATE",
				Message: "duplicate rule id",
				Details: []ErrorDetail{{Field: "id", Problem: "duplicate", Hint: "Rule ids must be unique"}},
			}
			continue
		}
		rule, verr := Compile(def, reg)
		if verr != nil {
			set.invalid[def.ID] = verr
			continue
		}
		set.byID[rule.ID] = rule
		if rule.Enabled {
			set.rules = append(set.rules, rule)
		}
	}
	sort.Slice(set.rules, func(i, j int) bool { return set.rules[i].ID < set.rules[j].ID })
	return set
}

// Active returns the enabled, valid rules ordered by id.
func (s *Set) Active() []Rule {
	if s == nil {
		return nil
	}
	return s.rules
}

// Get returns a valid rule by id, enabled or not.
func (s *Set) Get(id string) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	rule, ok := s.byID[id]
	return rule, ok
}

func (s *Set) Invalid() map[string]*ValidationError {
	if s == nil {
		return nil
	}
	return s.invalid
}

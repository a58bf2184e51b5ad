package rules

import "fmt"

// migration transforms a rule set from one schema version to the next.
type migration struct {
	from, to string
	apply    func(*RuleSet) (*RuleSet, []string)
}

// migrations is ordered; each entry upgrades from its `from` version.
// Only v1.0 exists today, so the chain is empty. The framework is here so
// future versions slot in without touching the validator.
var migrations []migration

// Migrate upgrades a rule set to the current schema version. Unknown
// versions pass through unchanged with a warning.
func Migrate(rs *RuleSet) (*RuleSet, []string) {
	var warns []string

	if rs.Version == "1.0" {
		return rs, nil
	}

	cur := rs
	migratedAny := false
	for _, m := range migrations {
		if cur.Version == m.from {
			next, w := m.apply(cur)
			next.Version = m.to
			warns = append(warns, w...)
			cur = next
			migratedAny = true
		}
	}
	if !migratedAny {
		warns = append(warns, fmt.Sprintf("unknown rule set version %q, loaded as-is", rs.Version))
	}
	return cur, warns
}

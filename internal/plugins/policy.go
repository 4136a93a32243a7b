package plugins

// Well-known plugin identifiers.
const (
	SQLiteID         = IDPrefix + "sqlite"
	SLCID            = IDPrefix + "slc"
	RunApplicationID = IDPrefix + "runapplication"
)

// CoreID is the persistence plugin; it is loaded whatever the configuration says.
const CoreID = SQLiteID

var defaultEnabled = map[string]bool{
	SLCID:            true,
	RunApplicationID: false,
}

// Policy decides which plugin identifiers are enabled.
type Policy struct {
	overrides map[string]bool
}

// NewPolicy builds a policy from the [plugins] configuration table.
func NewPolicy(overrides map[string]bool) Policy {
	copied := make(map[string]bool, len(overrides))
	for id, enabled := range overrides {
		copied[id] = enabled
	}
	return Policy{overrides: copied}
}

// Enabled reports whether id should be loaded. The core plugin is always
// enabled. Otherwise an explicit configuration entry wins over the built-in
// default, and unknown identifiers default to disabled.
func (p Policy) Enabled(id string) bool {
	if id == CoreID {
		return true
	}
	if enabled, ok := p.overrides[id]; ok {
		return enabled
	}
	return defaultEnabled[id]
}

// FilterEnabled keeps the candidates the policy enables, preserving order.
func FilterEnabled(candidates []Candidate, policy Policy) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if policy.Enabled(candidate.ID) {
			out = append(out, candidate)
		}
	}
	return out
}

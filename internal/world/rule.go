package world

type RuleType string

const (
	RuleHard RuleType = "hard"
	RuleSoft RuleType = "soft"
)

type Operator string

const (
	OpLE Operator = "<="
	OpGE Operator = ">="
	OpLT Operator = "<"
	OpGT Operator = ">"
	OpEQ Operator = "=="
	OpNE Operator = "!="
)

// Compare evaluates "v op threshold". Unknown operators never match.
func (op Operator) Compare(v, threshold float64) bool {
	switch op {
	case OpLE:
		return v <= threshold
	case OpGE:
		return v >= threshold
	case OpLT:
		return v < threshold
	case OpGT:
		return v > threshold
	case OpEQ:
		return v == threshold
	case OpNE:
		return v != threshold
	default:
		return false
	}
}

type RuleEffectKind string

const (
	EffectEliminate RuleEffectKind = "eliminate"
	EffectPenalize  RuleEffectKind = "penalize"
)

// AppliesToAll matches every entity type.
const AppliesToAll = "all"

type RuleCheck struct {
	Property string   `json:"property"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

type Penalty struct {
	Property string  `json:"property"`
	Amount   float64 `json:"amount"`
}

// StructuredRule is enforced mechanically after every action. Type is
// descriptive only.
type StructuredRule struct {
	ID          string         `json:"id"`
	Type        RuleType       `json:"type"`
	Description string         `json:"description"`
	Check       RuleCheck      `json:"check"`
	Effect      RuleEffectKind `json:"effect"`
	Penalty     *Penalty       `json:"penalty,omitempty"`
	AppliesTo   string         `json:"appliesTo"`
}

// Matches reports whether the rule targets entities of typ.
func (r *StructuredRule) Matches(typ string) bool {
	return r.AppliesTo == AppliesToAll || r.AppliesTo == typ
}

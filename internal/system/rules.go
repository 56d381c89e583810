package system

import (
	"fmt"
	"time"

	"github.com/vyuha/server/internal/world"
)

// RuleEffect is one consequence emitted by EvaluateRules.
type RuleEffect struct {
	EntityID   string
	EntityName string
	Effect     world.RuleEffectKind
	Rule       world.StructuredRule
	Penalty    *world.Penalty // set for penalize effects
}

// EvaluateRules checks every structured rule against every entity, rule
// by rule, and returns the matches in that order. Entities without a
// numeric value for the checked property never match. s is not modified.
func EvaluateRules(s *world.State) []RuleEffect {
	var effects []RuleEffect
	for _, rule := range s.StructuredRules {
		for i := range s.Entities {
			ent := &s.Entities[i]
			if !rule.Matches(ent.Type) {
				continue
			}
			v, ok := ent.Properties.Number(rule.Check.Property)
			if !ok || !rule.Check.Operator.Compare(v, rule.Check.Value) {
				continue
			}
			switch rule.Effect {
			case world.EffectEliminate:
				effects = append(effects, RuleEffect{
					EntityID: ent.ID, EntityName: ent.Name,
					Effect: world.EffectEliminate, Rule: rule,
				})
			case world.EffectPenalize:
				if rule.Penalty == nil {
					continue
				}
				p := *rule.Penalty
				effects = append(effects, RuleEffect{
					EntityID: ent.ID, EntityName: ent.Name,
					Effect: world.EffectPenalize, Rule: rule, Penalty: &p,
				})
			}
		}
	}
	return effects
}

// ApplyRuleEffects applies effects to s in order and appends one
// rule-violation log entry per applied effect. Effects on entities that an
// earlier effect already eliminated are skipped. The applied effects and
// their log entries are returned pairwise.
func ApplyRuleEffects(s *world.State, effects []RuleEffect, now time.Time) (applied []RuleEffect, logged []world.LogEntry) {
	for _, eff := range effects {
		i := s.EntityIndex(eff.EntityID)
		if i < 0 {
			continue
		}
		var msg string
		switch eff.Effect {
		case world.EffectEliminate:
			s.RemoveEntity(eff.EntityID)
			msg = fmt.Sprintf("%s was eliminated: %s", eff.EntityName, ruleLabel(eff.Rule))
		case world.EffectPenalize:
			ent := &s.Entities[i]
			prop := eff.Penalty.Property
			ent.Properties = ent.Properties.With(prop, ent.Properties.NumberOr(prop, 0)-eff.Penalty.Amount)
			msg = fmt.Sprintf("%s penalized %g %s: %s", eff.EntityName, eff.Penalty.Amount, prop, ruleLabel(eff.Rule))
		default:
			continue
		}
		entry := world.LogEntry{
			Timestamp: now.UTC(),
			AgentID:   eff.EntityID,
			Message:   msg,
			Type:      world.LogRuleViolation,
		}
		s.AppendLog(entry)
		applied = append(applied, eff)
		logged = append(logged, entry)
	}
	return applied, logged
}

func ruleLabel(r world.StructuredRule) string {
	if r.Description != "" {
		return r.Description
	}
	return fmt.Sprintf("%s %s %g", r.Check.Property, r.Check.Operator, r.Check.Value)
}

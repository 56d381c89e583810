package system

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vyuha/server/internal/world"
)

// DefaultInteractionRange is the Chebyshev distance within which two
// entities may interact.
const DefaultInteractionRange = 2

const (
	defaultScore  = 0
	defaultHealth = 100
)

// InteractionResult is the outcome of one entity acting on another.
// ActorProps and TargetProps are full replacement bags; TargetProps is nil
// when the target is unchanged. Invalid results carry only Message.
type InteractionResult struct {
	Valid       bool
	ActorProps  world.Properties
	TargetProps world.Properties
	Message     string
}

// payoff is a score/health delta pair for one side of an agent exchange.
type payoff struct {
	score  float64
	health float64
}

type payoffRow struct {
	actor, target payoff
	verb          string // log phrasing, e.g. "cooperated with"
	gain          string
}

var payoffTable = map[string]payoffRow{
	"cooperate": {actor: payoff{score: 3}, target: payoff{score: 3}, verb: "cooperated with", gain: "both gain 3 score"},
	"defect":    {actor: payoff{score: 5}, target: payoff{score: -2}, verb: "defected against", gain: "gains 5, %s loses 2"},
	"betray":    {actor: payoff{score: 5}, target: payoff{score: -2}, verb: "defected against", gain: "gains 5, %s loses 2"},
	"attack":    {actor: payoff{score: 2}, target: payoff{health: -10}, verb: "attacked", gain: "%s loses 10 health"},
	"trade":     {actor: payoff{score: 1}, target: payoff{score: 1}, verb: "traded with", gain: "both gain 1 score"},
	"defend":    {actor: payoff{health: 5}, target: payoff{health: 5}, verb: "defended with", gain: "both gain 5 health"},
	"protect":   {actor: payoff{health: 5}, target: payoff{health: 5}, verb: "defended with", gain: "both gain 5 health"},
}

var genericPayoff = payoffRow{actor: payoff{score: 1}, target: payoff{score: 1}, gain: "both gain 1 score"}

// InRange reports whether a and b are within reach on both axes.
func InRange(a, b world.Position, reach int) bool {
	return absInt(a.X-b.X) <= reach && absInt(a.Y-b.Y) <= reach
}

// ResolveInteraction computes the effect of actor applying label to target.
// It never modifies its arguments and never removes entities; absorbable
// targets are consumed by the caller.
func ResolveInteraction(actor, target *world.Entity, label string, reach int) InteractionResult {
	if reach <= 0 {
		reach = DefaultInteractionRange
	}
	if !InRange(actor.Position, target.Position, reach) {
		return InteractionResult{
			Message: fmt.Sprintf("%s tried to %s with %s but too far away", actor.Name, label, target.Name),
		}
	}

	switch target.Kind() {
	case world.KindAgent:
		return resolveAgentExchange(actor, target, label)
	case world.KindAbsorbable:
		return absorb(actor, target)
	default:
		return InteractionResult{
			Valid:      true,
			ActorProps: addScore(actor.Properties, 1),
			Message:    fmt.Sprintf("%s interacted with %s", actor.Name, target.Name),
		}
	}
}

func resolveAgentExchange(actor, target *world.Entity, label string) InteractionResult {
	key := strings.ToLower(strings.TrimSpace(label))
	row, known := payoffTable[key]
	if !known {
		row = genericPayoff
	}

	var msg string
	if known {
		gain := row.gain
		if strings.Contains(gain, "%s") {
			gain = fmt.Sprintf(gain, target.Name)
		}
		msg = fmt.Sprintf("%s %s %s - %s", actor.Name, row.verb, target.Name, gain)
	} else {
		msg = fmt.Sprintf("%s -> %s with %s - %s", actor.Name, label, target.Name, row.gain)
	}

	return InteractionResult{
		Valid:       true,
		ActorProps:  applyPayoff(actor.Properties, row.actor),
		TargetProps: applyPayoff(target.Properties, row.target),
		Message:     msg,
	}
}

// applyPayoff writes only the fields the payoff touches.
func applyPayoff(p world.Properties, d payoff) world.Properties {
	out := p.Clone()
	if d.score != 0 {
		out["score"] = p.NumberOr("score", defaultScore) + d.score
	}
	if d.health != 0 {
		out["health"] = p.NumberOr("health", defaultHealth) + d.health
	}
	return out
}

func addScore(p world.Properties, n float64) world.Properties {
	return applyPayoff(p, payoff{score: n})
}

// absorb transfers every target property into the actor: numbers present
// on both sides are summed, a numeric "value" feeds score, anything else
// overwrites.
func absorb(actor, target *world.Entity) InteractionResult {
	out := actor.Properties.Clone()

	keys := make([]string, 0, len(target.Properties))
	for k := range target.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := target.Properties[k]
		tn, tNum := world.AsNumber(v)
		an, aNum := out.Number(k)
		switch {
		case tNum && aNum:
			out[k] = an + tn
		case k == "value" && tNum:
			out["score"] = out.NumberOr("score", defaultScore) + tn
		default:
			out[k] = v
		}
	}

	gained := "nothing"
	if len(keys) > 0 {
		gained = strings.Join(keys, ", ")
	}
	return InteractionResult{
		Valid:      true,
		ActorProps: out,
		Message:    fmt.Sprintf("%s used %s - gained: %s", actor.Name, target.Name, gained),
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

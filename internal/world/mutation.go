package world

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMalformedBatch is returned by DecodeBatch when the batch is not a
// JSON array.
var ErrMalformedBatch = errors.New("mutation batch is not an array")

type MutationType string

const (
	MutAddEntity            MutationType = "add_entity"
	MutRemoveEntity         MutationType = "remove_entity"
	MutModifyEntity         MutationType = "modify_entity"
	MutAddGlobalRule        MutationType = "add_global_rule"
	MutRemoveGlobalRule     MutationType = "remove_global_rule"
	MutModifyGrid           MutationType = "modify_grid"
	MutModifyEnvironment    MutationType = "modify_environment"
	MutFillArea             MutationType = "fill_area"
	MutAddStructuredRule    MutationType = "add_structured_rule"
	MutRemoveStructuredRule MutationType = "remove_structured_rule"
)

// Mutation is one world edit on the wire: {type, payload}.
type Mutation struct {
	Type    MutationType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMutation encodes payload into a Mutation.
func NewMutation(t MutationType, payload any) Mutation {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return Mutation{Type: t, Payload: raw}
}

type idPayload struct {
	ID string `json:"id"`
}

type globalRulePayload struct {
	Rule string `json:"rule"`
}

type gridPayload struct {
	Width  *int `json:"width"`
	Height *int `json:"height"`
}

type fillAreaPayload struct {
	X1         int        `json:"x1"`
	Y1         int        `json:"y1"`
	X2         int        `json:"x2"`
	Y2         int        `json:"y2"`
	EntityType string     `json:"entityType"`
	Name       string     `json:"name"`
	Emoji      string     `json:"emoji"`
	Color      string     `json:"color"`
	Properties Properties `json:"properties"`
}

// Engine applies mutation batches to world snapshots. It holds no state of
// its own and is safe for concurrent use.
type Engine struct {
	log *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log}
}

// DecodeBatch splits a raw batch into mutations. A non-array batch yields
// ErrMalformedBatch; array elements that are not mutation objects are
// dropped with a warning.
func (e *Engine) DecodeBatch(raw json.RawMessage) ([]Mutation, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrMalformedBatch
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	out := make([]Mutation, 0, len(items))
	for i, item := range items {
		var m Mutation
		if err := json.Unmarshal(item, &m); err != nil {
			e.log.Warn("dropping non-conforming mutation", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ApplyRaw decodes and applies a raw batch. A malformed batch leaves the
// state unchanged and is reported through the returned error only for
// diagnostics; callers treat it as zero mutations.
func (e *Engine) ApplyRaw(s *State, raw json.RawMessage) (*State, error) {
	muts, err := e.DecodeBatch(raw)
	if err != nil {
		e.log.Warn("ignoring malformed mutation batch", zap.Error(err))
		return s.Clone(), err
	}
	return e.Apply(s, muts), nil
}

// Apply returns a new state with muts applied in order. s is not modified.
// Unknown mutation types are ignored.
func (e *Engine) Apply(s *State, muts []Mutation) *State {
	out := s.Clone()
	for i, m := range muts {
		if err := e.apply(out, m); err != nil {
			e.log.Warn("skipping mutation",
				zap.Int("index", i),
				zap.String("type", string(m.Type)),
				zap.Error(err))
		}
	}
	return out
}

func (e *Engine) apply(s *State, m Mutation) error {
	switch m.Type {
	case MutAddEntity:
		var ent Entity
		if err := decodePayload(m.Payload, &ent); err != nil {
			return err
		}
		return e.addEntity(s, ent)

	case MutRemoveEntity:
		var p idPayload
		if err := decodePayload(m.Payload, &p); err != nil {
			return err
		}
		s.RemoveEntity(p.ID)

	case MutModifyEntity:
		return e.modifyEntity(s, m.Payload)

	case MutAddGlobalRule:
		var p globalRulePayload
		if err := decodePayload(m.Payload, &p); err != nil {
			return err
		}
		if p.Rule == "" {
			return errors.New("empty global rule")
		}
		s.GlobalRules = append(s.GlobalRules, p.Rule)

	case MutRemoveGlobalRule:
		var p globalRulePayload
		if err := decodePayload(m.Payload, &p); err != nil {
			return err
		}
		kept := s.GlobalRules[:0:0]
		for _, r := range s.GlobalRules {
			if r != p.Rule {
				kept = append(kept, r)
			}
		}
		s.GlobalRules = kept

	case MutModifyGrid:
		var p gridPayload
		if err := decodePayload(m.Payload, &p); err != nil {
			return err
		}
		if p.Width != nil && *p.Width > 0 {
			s.Grid.Width = *p.Width
		}
		if p.Height != nil && *p.Height > 0 {
			s.Grid.Height = *p.Height
		}
		s.ClampPositions()
		e.settleAgents(s)

	case MutModifyEnvironment:
		var p map[string]any
		if err := decodePayload(m.Payload, &p); err != nil {
			return err
		}
		if s.Environment == nil {
			s.Environment = map[string]any{}
		}
		for k, v := range p {
			s.Environment[k] = v
		}

	case MutFillArea:
		var p fillAreaPayload
		if err := decodePayload(m.Payload, &p); err != nil {
			return err
		}
		return e.fillArea(s, p)

	case MutAddStructuredRule:
		var r StructuredRule
		if err := decodePayload(m.Payload, &r); err != nil {
			return err
		}
		return addStructuredRule(s, r)

	case MutRemoveStructuredRule:
		var p idPayload
		if err := decodePayload(m.Payload, &p); err != nil {
			return err
		}
		kept := s.StructuredRules[:0:0]
		for _, r := range s.StructuredRules {
			if r.ID != p.ID {
				kept = append(kept, r)
			}
		}
		s.StructuredRules = kept

	default:
		e.log.Debug("ignoring unknown mutation type", zap.String("type", string(m.Type)))
	}
	return nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func (e *Engine) addEntity(s *State, ent Entity) error {
	if ent.ID == "" {
		ent.ID = generatedID(ent.Type)
	}
	if s.EntityIndex(ent.ID) >= 0 {
		return fmt.Errorf("duplicate entity id %q", ent.ID)
	}
	applyEntityDefaults(&ent)
	s.Entities = append(s.Entities, ent)
	e.place(s, len(s.Entities)-1)
	return nil
}

func (e *Engine) modifyEntity(s *State, raw json.RawMessage) error {
	var changes map[string]json.RawMessage
	if err := decodePayload(raw, &changes); err != nil {
		return err
	}
	var id string
	if err := json.Unmarshal(changes["id"], &id); err != nil || id == "" {
		return errors.New("modify_entity without id")
	}
	delete(changes, "id")

	i := s.EntityIndex(id)
	if i < 0 {
		return nil
	}
	current, err := json.Marshal(s.Entities[i])
	if err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(current, &fields); err != nil {
		return err
	}
	for k, v := range changes {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	var ent Entity
	if err := json.Unmarshal(merged, &ent); err != nil {
		return fmt.Errorf("merge entity %s: %w", id, err)
	}
	ent.ID = id
	applyEntityDefaults(&ent)
	s.Entities[i] = ent
	_, moved := changes["position"]
	_, retyped := changes["type"]
	if ent.IsAgent() && (moved || retyped) {
		e.place(s, i)
	} else {
		s.Entities[i].Position = s.Grid.Clamp(ent.Position)
	}
	return nil
}

func (e *Engine) fillArea(s *State, p fillAreaPayload) error {
	if p.EntityType == "" {
		return errors.New("fill_area without entityType")
	}
	minX, maxX := max(min(p.X1, p.X2), 0), min(max(p.X1, p.X2), s.Grid.Width-1)
	minY, maxY := max(min(p.Y1, p.Y2), 0), min(max(p.Y1, p.Y2), s.Grid.Height-1)
	if minX > maxX || minY > maxY {
		e.log.Debug("fill_area outside the grid", zap.String("type", p.EntityType))
		return nil
	}
	occ := NewOccupancy(s)
	skipped := 0
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			pos := Position{X: x, Y: y}
			id := fmt.Sprintf("%s-%d-%d", p.EntityType, x, y)
			if !s.Grid.Contains(pos) || s.EntityIndex(id) >= 0 {
				skipped++
				continue
			}
			ent := Entity{
				ID:         id,
				Type:       p.EntityType,
				Name:       p.Name,
				Position:   pos,
				Emoji:      p.Emoji,
				Color:      p.Color,
				Properties: p.Properties.Clone(),
			}
			applyEntityDefaults(&ent)
			if ent.IsAgent() {
				if occ.Blocked(pos, id) {
					skipped++
					continue
				}
				occ.Add(id, pos)
			}
			s.Entities = append(s.Entities, ent)
		}
	}
	if skipped > 0 {
		e.log.Debug("fill_area skipped cells", zap.String("type", p.EntityType), zap.Int("skipped", skipped))
	}
	return nil
}

func addStructuredRule(s *State, r StructuredRule) error {
	if r.ID == "" {
		r.ID = generatedID("rule")
	}
	for _, existing := range s.StructuredRules {
		if existing.ID == r.ID {
			return fmt.Errorf("duplicate structured rule id %q", r.ID)
		}
	}
	switch r.Check.Operator {
	case OpLE, OpGE, OpLT, OpGT, OpEQ, OpNE:
	default:
		return fmt.Errorf("rule %s: unknown operator %q", r.ID, r.Check.Operator)
	}
	switch r.Effect {
	case EffectEliminate:
		r.Penalty = nil
	case EffectPenalize:
		if r.Penalty == nil || r.Penalty.Property == "" {
			return fmt.Errorf("rule %s: penalize without penalty", r.ID)
		}
	default:
		return fmt.Errorf("rule %s: unknown effect %q", r.ID, r.Effect)
	}
	if r.Check.Property == "" {
		return fmt.Errorf("rule %s: empty check property", r.ID)
	}
	s.StructuredRules = append(s.StructuredRules, r)
	return nil
}

func applyEntityDefaults(ent *Entity) {
	if ent.Properties == nil {
		ent.Properties = Properties{}
	}
	if !ent.IsAgent() {
		return
	}
	if ent.Status == "" {
		ent.Status = StatusIdle
	}
	if ent.Memory == nil {
		ent.Memory = []string{}
	}
	if over := len(ent.Memory) - MemoryCap; over > 0 {
		ent.Memory = append([]string{}, ent.Memory[over:]...)
	}
	if ent.Delay < 0 {
		ent.Delay = 0
	}
}

// place clamps the entity at idx into the grid and, for agents, moves it
// to a free neighbour when another agent already holds the cell.
func (e *Engine) place(s *State, idx int) {
	ent := &s.Entities[idx]
	ent.Position = s.Grid.Clamp(ent.Position)
	if !ent.IsAgent() {
		return
	}
	occ := NewOccupancy(s)
	if !occ.Blocked(ent.Position, ent.ID) {
		return
	}
	if p, ok := occ.FreeNeighbor(s.Grid, ent.Position, ent.ID, nil); ok {
		ent.Position = p
		return
	}
	e.log.Warn("no free cell for agent", zap.String("agent", ent.ID),
		zap.Int("x", ent.Position.X), zap.Int("y", ent.Position.Y))
}

// settleAgents separates agents stacked on one cell after a grid resize.
// Earlier agents keep their cell.
func (e *Engine) settleAgents(s *State) {
	occ := &Occupancy{cells: make(map[Position]map[string]struct{})}
	for i := range s.Entities {
		ent := &s.Entities[i]
		if !ent.IsAgent() {
			continue
		}
		if occ.Blocked(ent.Position, ent.ID) {
			if p, ok := occ.FreeNeighbor(s.Grid, ent.Position, ent.ID, nil); ok {
				ent.Position = p
			}
		}
		occ.Add(ent.ID, ent.Position)
	}
}

func generatedID(prefix string) string {
	if prefix == "" {
		prefix = "entity"
	}
	return prefix + "-" + uuid.NewString()[:8]
}

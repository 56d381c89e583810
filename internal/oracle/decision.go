package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vyuha/server/internal/world"
)

type Action string

const (
	ActionMove     Action = "move"
	ActionInteract Action = "interact"
	ActionWait     Action = "wait"
	ActionSpeak    Action = "speak"
)

// Decision is one agent's parsed answer. Unknown actions are kept as-is
// and treated as waiting by the caller.
type Decision struct {
	Action   Action          `json:"action"`
	Data     json.RawMessage `json:"data,omitempty"`
	Thought  string          `json:"thought"`
	RestTime *float64        `json:"restTime,omitempty"` // milliseconds
}

// Rest returns the suggested pause, or zero.
func (d *Decision) Rest() time.Duration {
	if d.RestTime == nil || *d.RestTime <= 0 || math.IsInf(*d.RestTime, 0) {
		return 0
	}
	return time.Duration(*d.RestTime * float64(time.Millisecond))
}

type MoveData struct {
	DX, DY int
}

type InteractData struct {
	TargetID    string
	Interaction string
}

type SpeakData struct {
	Message string
}

// Move reads dx/dy leniently: numbers, numeric strings and missing
// values (zero) are all accepted, fractions truncate.
func (d *Decision) Move() MoveData {
	m := d.dataMap()
	return MoveData{DX: lenientInt(m["dx"]), DY: lenientInt(m["dy"])}
}

func (d *Decision) Interact() InteractData {
	m := d.dataMap()
	target := lenientString(m["targetId"])
	if target == "" {
		target = lenientString(m["target"])
	}
	return InteractData{TargetID: target, Interaction: lenientString(m["interaction"])}
}

func (d *Decision) Speak() SpeakData {
	return SpeakData{Message: lenientString(d.dataMap()["message"])}
}

func (d *Decision) dataMap() map[string]any {
	var m map[string]any
	if len(d.Data) > 0 {
		_ = json.Unmarshal(d.Data, &m)
	}
	return m
}

func lenientInt(v any) int {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		v = f
	}
	n, ok := world.AsNumber(v)
	if !ok {
		return 0
	}
	return world.ClampInt(n)
}

func lenientString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

var fenceRe = regexp.MustCompile("```(?:json|JSON)?\\n?")

// StripFences removes markdown code fence markers around a JSON answer.
func StripFences(raw string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(raw, ""))
}

// ErrNotJSON wraps answers that are not JSON after fence stripping.
var ErrNotJSON = errors.New("oracle answer is not JSON")

const decisionSchema = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action":   {"type": "string", "minLength": 1},
    "data":     {"type": ["object", "null"]},
    "thought":  {"type": "string"},
    "restTime": {"type": ["number", "null"], "minimum": 0}
  }
}`

const godSchema = `{
  "type": "object",
  "properties": {
    "message": {"type": ["string", "null"]}
  }
}`

var (
	decisionValidator = jsonschema.MustCompileString("decision.json", decisionSchema)
	godValidator      = jsonschema.MustCompileString("god.json", godSchema)
)

// ParseDecision validates an agent answer.
func ParseDecision(raw string) (*Decision, error) {
	body, err := validated(raw, decisionValidator)
	if err != nil {
		return nil, err
	}
	var d Decision
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	d.Action = Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
	if len(d.Data) == 0 || bytes.Equal(d.Data, []byte("null")) {
		d.Data = json.RawMessage("{}")
	}
	return &d, nil
}

// GodResponse is a parsed God Mode answer. Mutations is always a JSON
// array; it is empty when the answer had none or had a non-array value.
type GodResponse struct {
	Mutations json.RawMessage `json:"mutations"`
	Message   string          `json:"message"`
}

// ParseGodResponse validates a God Mode answer.
func ParseGodResponse(raw string) (*GodResponse, error) {
	body, err := validated(raw, godValidator)
	if err != nil {
		return nil, err
	}
	var fields struct {
		Mutations json.RawMessage `json:"mutations"`
		Message   *string         `json:"message"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode god response: %w", err)
	}
	resp := &GodResponse{Mutations: json.RawMessage("[]")}
	if m := bytes.TrimSpace(fields.Mutations); len(m) > 0 && m[0] == '[' {
		resp.Mutations = m
	}
	if fields.Message != nil {
		resp.Message = *fields.Message
	}
	return resp, nil
}

func validated(raw string, schema *jsonschema.Schema) ([]byte, error) {
	body := []byte(StripFences(raw))
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrNotJSON)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return body, nil
}

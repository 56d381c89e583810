package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/vyuha/server/internal/world"
)

const AgentSystem = "You are an autonomous agent in a simulation. Respond with ONLY valid JSON."

var funcs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(b)
	},
	"jsonIndent": func(v any) string {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "{}"
		}
		return string(b)
	},
	"join": strings.Join,
	"sub":  func(a, b int) int { return a - b },
}

var agentTmpl = template.Must(template.New("agent").Funcs(funcs).Parse(`You are "{{.Self.Name}}", an agent living in a 2D grid world called Vyuha.

## Your Identity
- Name: {{.Self.Name}}
- Position: ({{.Self.Position.X}}, {{.Self.Position.Y}})
- Your Rules: {{or .Self.Rules "No specific rules"}}
- Your Properties: {{json .Self.Properties}}
- Your Status: {{.Self.Status}}

## Your Memory (recent events you remember)
{{if .Memory}}{{join .Memory "\n"}}{{else}}No memories yet.{{end}}

## World Info
- Grid: {{.Grid.Width}}x{{.Grid.Height}} (valid coordinates: x from 0 to {{sub .Grid.Width 1}}, y from 0 to {{sub .Grid.Height 1}})
- Global Rules: {{if .GlobalRules}}{{join .GlobalRules "; "}}{{else}}None{{end}}
- Enforced Rules: {{if .Enforced}}{{join .Enforced "; "}}{{else}}None{{end}}
- Environment: {{json .Environment}}

## Nearby Entities You Can Interact With
{{range .Interactable}}- {{or .Name .ID}} (id: {{.ID}}, {{.Type}}) at ({{.Position.X}},{{.Position.Y}}) {{.Emoji}} properties:{{json .Properties}}
{{else}}Nothing nearby.
{{end}}
## Terrain Nearby (not interactable)
{{range .Terrain}}- {{or .Name .ID}} ({{.Type}}) at ({{.Position.X}},{{.Position.Y}})
{{else}}None.
{{end}}
## What You Can Do
Respond with ONLY valid JSON, no markdown, no code fences:
{
  "action": "move" | "interact" | "wait" | "speak",
  "data": {
    // for "move": { "dx": -1|0|1, "dy": -1|0|1 }
    // for "interact": { "targetId": "...", "interaction": "cooperate|defect|attack|trade|defend|..." }
    // for "wait": {}
    // for "speak": { "message": "..." }
  },
  "thought": "Brief internal reasoning (this goes to your memory)",
  "restTime": 0
}

You can only interact with entities within 2 cells. Think about your rules, the global rules, your surroundings and your memory. Then decide your action.`))

var godTmpl = template.Must(template.New("god").Funcs(funcs).Parse(`You are the God Mode controller for "Vyuha", an agentic sandbox where LLM agents live on a 2D grid.

You receive the user's natural language command and the current world state. Translate ANY user intent into structured state mutations.

## Rules
- Be creative and diverse. When creating agents, give them unique names, personalities, strategies, colors, emojis and speeds.
- When the user is vague, implement your best interpretation immediately and explain what you did in your message.
- Complex concepts (weather, economy, gravity) are implemented with entities plus text rules that agents read and interpret.
- Entity IDs must be unique. Use "agent-{lowercase-name}" or "{type}-{random4digits}".
- Positions must be within grid bounds (0 to {{sub .State.Grid.Width 1}}, 0 to {{sub .State.Grid.Height 1}}).
- Agents have a "delay" field (milliseconds) that controls how long they pause after acting. Default 0.
- Mechanical consequences (death at zero health, taxes) belong in structured rules; they are enforced after every action.

## Mutation Types
{{range .Catalogue}}
### {{.Type}}
{{.Doc}}
{{.Example}}
{{end}}
## Current World State
` + "```json" + `
{{jsonIndent .State}}
` + "```" + `

## Response Format
Respond with ONLY valid JSON, no markdown, no code fences, no extra text:
{
  "mutations": [ { "type": "...", "payload": { ... } } ],
  "message": "Brief explanation of what you did"
}`))

type catalogueEntry struct {
	Type    world.MutationType
	Doc     string
	Example string
}

var catalogue = []catalogueEntry{
	{world.MutAddEntity, "Adds an entity. The payload is the entity object.",
		`{"type":"add_entity","payload":{"id":"agent-alpha","type":"agent","name":"Alpha","position":{"x":5,"y":3},"emoji":"🤖","color":"#3b82f6","rules":"Always cooperate unless betrayed twice","delay":0,"properties":{"health":100,"score":0,"mobility":1}}}`},
	{world.MutRemoveEntity, "Removes an entity by id.",
		`{"type":"remove_entity","payload":{"id":"agent-alpha"}}`},
	{world.MutModifyEntity, "Changes only the given fields of an entity. The id selects it.",
		`{"type":"modify_entity","payload":{"id":"agent-alpha","rules":"New rules here","color":"#ef4444"}}`},
	{world.MutAddGlobalRule, "Text rule that all agents see.",
		`{"type":"add_global_rule","payload":{"rule":"Agents lose 5 health per action if not adjacent to shelter"}}`},
	{world.MutRemoveGlobalRule, "Removes a text rule by its exact text.",
		`{"type":"remove_global_rule","payload":{"rule":"exact text of rule to remove"}}`},
	{world.MutModifyGrid, "Resizes the grid. Entities outside are pulled back in.",
		`{"type":"modify_grid","payload":{"width":30,"height":30}}`},
	{world.MutModifyEnvironment, "Merges keys into the environment.",
		`{"type":"modify_environment","payload":{"weather":"storm","visibility":2}}`},
	{world.MutFillArea, "Fills every cell of a rectangle (inclusive corners) with one entity each.",
		`{"type":"fill_area","payload":{"x1":0,"y1":0,"x2":4,"y2":0,"entityType":"wall","name":"Wall","emoji":"🧱","color":"#78716c","properties":{}}}`},
	{world.MutAddStructuredRule, "Adds a mechanically enforced rule. effect is eliminate or penalize; penalize needs a penalty.",
		`{"type":"add_structured_rule","payload":{"id":"rule-death","type":"hard","description":"Agents with no health die","check":{"property":"health","operator":"<=","value":0},"effect":"eliminate","appliesTo":"agent"}}`},
	{world.MutRemoveStructuredRule, "Removes a structured rule by id.",
		`{"type":"remove_structured_rule","payload":{"id":"rule-death"}}`},
}

// RenderAgentPrompt renders the decision prompt for ac.
func RenderAgentPrompt(ac *AgentContext) (string, error) {
	var b strings.Builder
	if err := agentTmpl.Execute(&b, ac); err != nil {
		return "", fmt.Errorf("render agent prompt: %w", err)
	}
	return b.String(), nil
}

// RenderGodSystem renders the God Mode instruction with the full state.
func RenderGodSystem(s *world.State) (string, error) {
	var b strings.Builder
	err := godTmpl.Execute(&b, struct {
		State     *world.State
		Catalogue []catalogueEntry
	}{s, catalogue})
	if err != nil {
		return "", fmt.Errorf("render god prompt: %w", err)
	}
	return b.String(), nil
}

// Package filters evaluates the optional per-configuration filter that narrows
// which events reach an integration.
//
// A filter is a JSON group:
//
//	{"andOperator": true,
//	 "rules":  [{"property": "UserId", "operation": "Equals", "value": "..."}],
//	 "groups": [ ...nested groups... ]}
//
// Rules address event properties by name (see types.EventMessage.Properties).
// An empty group matches everything. A rule naming a property the event does
// not carry never matches.
package filters

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"eventrelay/internal/types"
)

// Operation is a rule comparison. JSON accepts the name or its ordinal.
type Operation int

const (
	OpEquals Operation = iota
	OpNotEquals
	OpIn
	OpNotIn
)

var operationNames = map[string]Operation{
	"equals":    OpEquals,
	"notequals": OpNotEquals,
	"in":        OpIn,
	"notin":     OpNotIn,
}

func (o Operation) String() string {
	switch o {
	case OpEquals:
		return "Equals"
	case OpNotEquals:
		return "NotEquals"
	case OpIn:
		return "In"
	case OpNotIn:
		return "NotIn"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*o = Operation(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("filters: operation must be a string or number: %w", err)
	}
	op, ok := operationNames[strings.ToLower(s)]
	if !ok {
		// Unknown names evaluate to false rather than failing the parse.
		*o = Operation(-1)
		return nil
	}
	*o = op
	return nil
}

// Rule compares one event property against Value. Equals/NotEquals take a
// scalar; In/NotIn take an array.
type Rule struct {
	Property  string          `json:"property"`
	Operation Operation       `json:"operation"`
	Value     json.RawMessage `json:"value"`
}

// Group combines rules and nested groups with AND or OR.
type Group struct {
	AndOperator bool    `json:"andOperator"`
	Rules       []Rule  `json:"rules,omitempty"`
	Groups      []Group `json:"groups,omitempty"`
}

// Parse decodes a stored filter. An empty string means no filter.
func Parse(raw string) (*Group, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var g Group
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationFilter, "invalid integration filter", err)
	}
	return &g, nil
}

// Evaluate reports whether event satisfies group. A nil group matches. An
// error means the filter itself is malformed (wrong value shape for the
// operation); callers treat that configuration as unusable.
func Evaluate(group *Group, event *types.EventMessage) (bool, error) {
	if group == nil {
		return true, nil
	}
	return evaluateGroup(group, eventValues(event))
}

// eventValues lists the accepted spellings of each property. Type matches
// its name or its number.
func eventValues(event *types.EventMessage) map[string][]string {
	out := make(map[string][]string)
	for k, v := range event.Properties() {
		out[strings.ToLower(k)] = []string{v}
	}
	out["type"] = append(out["type"], strconv.Itoa(int(event.Type)))
	return out
}

func evaluateGroup(g *Group, values map[string][]string) (bool, error) {
	if len(g.Rules) == 0 && len(g.Groups) == 0 {
		return true, nil
	}

	results := make([]bool, 0, len(g.Rules)+len(g.Groups))
	for i := range g.Rules {
		ok, err := evaluateRule(&g.Rules[i], values)
		if err != nil {
			return false, err
		}
		results = append(results, ok)
	}
	for i := range g.Groups {
		ok, err := evaluateGroup(&g.Groups[i], values)
		if err != nil {
			return false, err
		}
		results = append(results, ok)
	}

	if g.AndOperator {
		for _, r := range results {
			if !r {
				return false, nil
			}
		}
		return true, nil
	}
	for _, r := range results {
		if r {
			return true, nil
		}
	}
	return false, nil
}

func evaluateRule(r *Rule, values map[string][]string) (bool, error) {
	actual, ok := values[strings.ToLower(r.Property)]
	if !ok {
		return false, nil
	}

	switch r.Operation {
	case OpEquals, OpNotEquals:
		want, err := scalar(r.Value)
		if err != nil {
			return false, fmt.Errorf("filters: rule %s %s: %w", r.Property, r.Operation, err)
		}
		eq := matchesAny(actual, want)
		if r.Operation == OpEquals {
			return eq, nil
		}
		return !eq, nil

	case OpIn, OpNotIn:
		list, err := array(r.Value)
		if err != nil {
			return false, fmt.Errorf("filters: rule %s %s: %w", r.Property, r.Operation, err)
		}
		in := false
		for _, want := range list {
			if matchesAny(actual, want) {
				in = true
				break
			}
		}
		if r.Operation == OpIn {
			return in, nil
		}
		return !in, nil

	default:
		return false, nil
	}
}

func matchesAny(actual []string, want string) bool {
	for _, a := range actual {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}

func scalar(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("value is required")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("value must be a scalar, got %T", v)
	}
}

func array(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, fmt.Errorf("value must be an array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if string(item) == "null" {
			continue
		}
		s, err := scalar(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

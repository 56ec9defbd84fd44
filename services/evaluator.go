package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuleNode is one node of a condition tree. A node with Children is a group
// combined by Connector (AND/OR); otherwise it is a leaf comparing the
// payload value at Field against Value using Operator. Operator and Value are
// typed loosely on purpose: a non-string operator or value degrades the leaf
// to false instead of failing the whole tree.
type RuleNode struct {
	Connector string      `json:"connector,omitempty"`
	Children  []RuleNode  `json:"children,omitempty"`
	Field     string      `json:"field,omitempty"`
	Operator  interface{} `json:"operator,omitempty"`
	Value     interface{} `json:"value,omitempty"`

	// Offsets for the date operators (is_before / is_after / is_between).
	Hours      int `json:"hours,omitempty"`
	Minutes    int `json:"minutes,omitempty"`
	EndHours   int `json:"end_hours,omitempty"`
	EndMinutes int `json:"end_minutes,omitempty"`
}

// evalClock lets tests pin "now" for the date operators.
var evalClock = time.Now

// EvaluateRuleTree matches an event payload against a condition tree and
// returns the boolean outcome plus a human-readable trace of every leaf
// comparison. A structurally invalid tree (bad JSON, group without a valid
// connector, node that is neither group nor leaf) is a configuration error;
// everything else degrades per leaf.
func EvaluateRuleTree(tree json.RawMessage, payload map[string]interface{}) (bool, string, error) {
	if len(tree) == 0 {
		return false, "", fmt.Errorf("empty condition tree")
	}
	var root RuleNode
	if err := json.Unmarshal(tree, &root); err != nil {
		return false, "", fmt.Errorf("invalid condition tree: %w", err)
	}
	var trace strings.Builder
	matched, err := evalNode(&root, payload, &trace)
	if err != nil {
		return false, trace.String(), err
	}
	return matched, trace.String(), nil
}

func evalNode(node *RuleNode, payload map[string]interface{}, trace *strings.Builder) (bool, error) {
	if len(node.Children) > 0 {
		connector := strings.ToUpper(node.Connector)
		if connector != "AND" && connector != "OR" {
			return false, fmt.Errorf("group node has invalid connector %q", node.Connector)
		}

		trace.WriteString("(")
		result := connector == "AND" // identity element for the fold
		for i := range node.Children {
			if i > 0 {
				trace.WriteString(" " + connector + " ")
			}
			// every child is evaluated so the trace stays complete
			childResult, err := evalNode(&node.Children[i], payload, trace)
			if err != nil {
				return false, err
			}
			if connector == "AND" {
				result = result && childResult
			} else {
				result = result || childResult
			}
		}
		trace.WriteString(")")
		return result, nil
	}

	if node.Field == "" {
		return false, fmt.Errorf("node is neither a group nor a leaf")
	}
	return evalLeaf(node, payload, trace), nil
}

// evalLeaf never fails: a missing path, malformed operator/value or
// type-mismatched operand makes the single leaf false.
func evalLeaf(node *RuleNode, payload map[string]interface{}, trace *strings.Builder) bool {
	op, opOK := node.Operator.(string)

	raw, found := lookupFieldPath(payload, node.Field)
	value := htmlToText(stringify(raw))

	fmt.Fprintf(trace, " key: %s, condition: %s, value: %s ", node.Field, op, value)

	if !opOK || !found {
		return false
	}

	switch normalizeOperator(op) {
	case "==", "!=", ">", "<", ">=", "<=":
		if raw == nil || value == "" {
			return false
		}
		left, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return false
		}
		rightStr, ok := scalarString(node.Value)
		if !ok {
			return false
		}
		right, err := strconv.Atoi(strings.TrimSpace(rightStr))
		if err != nil {
			return false
		}
		return compareInts(left, right, normalizeOperator(op))

	case "is_null":
		return raw == nil
	case "is_not_null":
		return raw != nil
	case "is_empty":
		return value == ""
	case "is_not_empty":
		return value != ""

	case "is_equals":
		return withScalar(node.Value, func(want string) bool { return strings.EqualFold(value, want) })
	case "is_not_equals":
		return withScalar(node.Value, func(want string) bool { return !strings.EqualFold(value, want) })
	case "starts_with":
		return withScalar(node.Value, func(want string) bool {
			return strings.HasPrefix(strings.ToLower(value), strings.ToLower(want))
		})
	case "ends_with":
		return withScalar(node.Value, func(want string) bool {
			return strings.HasSuffix(strings.ToLower(value), strings.ToLower(want))
		})
	case "contains":
		return withScalar(node.Value, func(want string) bool {
			return strings.Contains(strings.ToLower(value), strings.ToLower(want))
		})
	case "does_not_contains":
		return withScalar(node.Value, func(want string) bool {
			return !strings.Contains(strings.ToLower(value), strings.ToLower(want))
		})

	case "is_before":
		return compareEpochField(value, node, "before")
	case "is_after":
		return compareEpochField(value, node, "after")
	case "is_between":
		return elapsedWithinBounds(value, node)
	}

	return false
}

func compareInts(left, right int, op string) bool {
	switch op {
	case "==":
		return left == right
	case "!=":
		return left != right
	case ">":
		return left > right
	case "<":
		return left < right
	case ">=":
		return left >= right
	case "<=":
		return left <= right
	}
	return false
}

// compareEpochField checks "now ± offset" against an epoch-millis field.
// after: now+offset is past the field time; before: now-offset is still
// ahead of it.
func compareEpochField(value string, node *RuleNode, direction string) bool {
	millis, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return false
	}
	fieldTime := time.UnixMilli(millis)
	offset := time.Duration(node.Hours)*time.Hour + time.Duration(node.Minutes)*time.Minute

	now := evalClock()
	if direction == "after" {
		return now.Add(offset).After(fieldTime)
	}
	return now.Add(-offset).Before(fieldTime)
}

// elapsedWithinBounds implements is_between: the minutes elapsed since the
// field's epoch-millis timestamp must be under the configured window span
// (hours/minutes minus end_hours/end_minutes).
func elapsedWithinBounds(value string, node *RuleNode) bool {
	millis, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return false
	}
	elapsed := int64(evalClock().Sub(time.UnixMilli(millis)).Minutes())
	first := int64(node.Hours*60 + node.Minutes)
	second := int64(node.EndHours*60 + node.EndMinutes)
	return (first - second) > elapsed
}

// lookupFieldPath traverses a dot-separated path through nested payload maps.
func lookupFieldPath(payload map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = payload
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			continue
		}
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func normalizeOperator(op string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(op)), " ", "_")
}

// scalarString accepts only scalar comparison values; maps and arrays make
// the leaf false.
func scalarString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case bool:
		return strconv.FormatBool(val), true
	}
	return "", false
}

func withScalar(v interface{}, fn func(string) bool) bool {
	s, ok := scalarString(v)
	if !ok {
		return false
	}
	return fn(s)
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// htmlToText strips markup so rich-text entity fields compare as plain text.
func htmlToText(html string) string {
	var plain strings.Builder
	insideTag := false
	for _, c := range html {
		switch {
		case c == '<':
			insideTag = true
		case c == '>':
			insideTag = false
		case !insideTag:
			plain.WriteRune(c)
		}
	}
	return plain.String()
}

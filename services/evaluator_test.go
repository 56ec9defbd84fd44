package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalTree(t *testing.T, tree string, payload map[string]interface{}) (bool, string) {
	t.Helper()
	matched, trace, err := EvaluateRuleTree(json.RawMessage(tree), payload)
	require.NoError(t, err)
	return matched, trace
}

func TestEvaluateRuleTree_SimpleLeaf(t *testing.T) {
	tree := `{"field":"status","operator":"Is_Equals","value":"Open"}`
	payload := map[string]interface{}{"status": "open"}

	matched, trace := evalTree(t, tree, payload)
	assert.True(t, matched, "Is_Equals is case-insensitive")
	assert.Equal(t, " key: status, condition: Is_Equals, value: open ", trace)
}

func TestEvaluateRuleTree_AndGroup(t *testing.T) {
	tree := `{
		"connector": "AND",
		"children": [
			{"field":"status","operator":"Is_Equals","value":"open"},
			{"field":"priority","operator":"==","value":"1"}
		]
	}`
	payload := map[string]interface{}{"status": "open", "priority": "1"}

	matched, trace := evalTree(t, tree, payload)
	assert.True(t, matched)
	assert.Equal(t, "( key: status, condition: Is_Equals, value: open  AND  key: priority, condition: ==, value: 1 )", trace)

	payload["priority"] = "2"
	matched, _ = evalTree(t, tree, payload)
	assert.False(t, matched)
}

func TestEvaluateRuleTree_OrGroup(t *testing.T) {
	tree := `{
		"connector": "or",
		"children": [
			{"field":"status","operator":"Is_Equals","value":"closed"},
			{"field":"status","operator":"Is_Equals","value":"open"}
		]
	}`
	matched, _ := evalTree(t, tree, map[string]interface{}{"status": "open"})
	assert.True(t, matched, "connector comparison is case-insensitive")

	matched, _ = evalTree(t, tree, map[string]interface{}{"status": "pending"})
	assert.False(t, matched)
}

func TestEvaluateRuleTree_NestedGroups(t *testing.T) {
	tree := `{
		"connector": "AND",
		"children": [
			{"field":"status","operator":"Is_Equals","value":"open"},
			{
				"connector": "OR",
				"children": [
					{"field":"priority","operator":">=","value":"3"},
					{"field":"vip","operator":"Is_Equals","value":"true"}
				]
			}
		]
	}`
	payload := map[string]interface{}{"status": "open", "priority": "1", "vip": true}

	matched, trace := evalTree(t, tree, payload)
	assert.True(t, matched)
	assert.Contains(t, trace, "( key: priority")
	assert.Contains(t, trace, " OR ")
}

func TestEvaluateRuleTree_AllChildrenTraced(t *testing.T) {
	// A failing first child must not short-circuit the trace.
	tree := `{
		"connector": "AND",
		"children": [
			{"field":"a","operator":"Is_Equals","value":"x"},
			{"field":"b","operator":"Is_Equals","value":"y"}
		]
	}`
	matched, trace := evalTree(t, tree, map[string]interface{}{"a": "no", "b": "y"})
	assert.False(t, matched)
	assert.Contains(t, trace, "key: a")
	assert.Contains(t, trace, "key: b")
}

func TestEvaluateRuleTree_ConfigErrors(t *testing.T) {
	_, _, err := EvaluateRuleTree(nil, map[string]interface{}{})
	assert.Error(t, err)

	_, _, err = EvaluateRuleTree(json.RawMessage(`{not json`), map[string]interface{}{})
	assert.Error(t, err)

	// group with a bogus connector
	_, _, err = EvaluateRuleTree(json.RawMessage(
		`{"connector":"XOR","children":[{"field":"a","operator":"Is_Null"}]}`),
		map[string]interface{}{})
	assert.Error(t, err)

	// neither group nor leaf
	_, _, err = EvaluateRuleTree(json.RawMessage(`{"operator":"Is_Null"}`), map[string]interface{}{})
	assert.Error(t, err)
}

func TestEvaluateRuleTree_NumericOperators(t *testing.T) {
	payload := map[string]interface{}{"count": "10", "price": float64(10)}

	cases := []struct {
		op    string
		value string
		want  bool
	}{
		{"==", "10", true},
		{"!=", "10", false},
		{">", "9", true},
		{">", "10", false},
		{"<", "11", true},
		{">=", "10", true},
		{"<=", "9", false},
	}
	for _, tc := range cases {
		tree := `{"field":"count","operator":"` + tc.op + `","value":"` + tc.value + `"}`
		matched, _ := evalTree(t, tree, payload)
		assert.Equal(t, tc.want, matched, "count %s %s", tc.op, tc.value)
	}

	// numeric JSON payload value still compares
	matched, _ := evalTree(t, `{"field":"price","operator":"==","value":"10"}`, payload)
	assert.True(t, matched)

	// non-numeric operand degrades the leaf to false, not an error
	matched, _ = evalTree(t, `{"field":"count","operator":">","value":"abc"}`, payload)
	assert.False(t, matched)
	matched, _ = evalTree(t, `{"field":"count","operator":">","value":"5"}`,
		map[string]interface{}{"count": "not-a-number"})
	assert.False(t, matched)
}

func TestEvaluateRuleTree_NullAndEmptyOperators(t *testing.T) {
	payload := map[string]interface{}{"present": "x", "nothing": nil, "blank": ""}

	matched, _ := evalTree(t, `{"field":"nothing","operator":"Is_Null"}`, payload)
	assert.True(t, matched)
	matched, _ = evalTree(t, `{"field":"present","operator":"Is_Not_Null"}`, payload)
	assert.True(t, matched)
	matched, _ = evalTree(t, `{"field":"blank","operator":"Is_Empty"}`, payload)
	assert.True(t, matched)
	matched, _ = evalTree(t, `{"field":"present","operator":"Is_Not_Empty"}`, payload)
	assert.True(t, matched)

	// a missing path is false even for Is_Null: the leaf degrades on lookup
	matched, _ = evalTree(t, `{"field":"absent","operator":"Is_Null"}`, payload)
	assert.False(t, matched)
}

func TestEvaluateRuleTree_StringOperators(t *testing.T) {
	payload := map[string]interface{}{"title": "Database Outage In Production"}

	matched, _ := evalTree(t, `{"field":"title","operator":"Starts_With","value":"database"}`, payload)
	assert.True(t, matched)
	matched, _ = evalTree(t, `{"field":"title","operator":"Ends_With","value":"PRODUCTION"}`, payload)
	assert.True(t, matched)
	matched, _ = evalTree(t, `{"field":"title","operator":"Contains","value":"outage"}`, payload)
	assert.True(t, matched)
	matched, _ = evalTree(t, `{"field":"title","operator":"Does_Not_Contains","value":"staging"}`, payload)
	assert.True(t, matched)
	matched, _ = evalTree(t, `{"field":"title","operator":"Is_Not_Equals","value":"something else"}`, payload)
	assert.True(t, matched)
}

func TestEvaluateRuleTree_OperatorNormalization(t *testing.T) {
	// spaces and casing in the operator are tolerated
	matched, _ := evalTree(t, `{"field":"s","operator":"is equals","value":"a"}`,
		map[string]interface{}{"s": "A"})
	assert.True(t, matched)

	// unknown operator degrades to false
	matched, _ = evalTree(t, `{"field":"s","operator":"resembles","value":"a"}`,
		map[string]interface{}{"s": "a"})
	assert.False(t, matched)

	// non-string operator degrades to false
	matched, _ = evalTree(t, `{"field":"s","operator":42,"value":"a"}`,
		map[string]interface{}{"s": "a"})
	assert.False(t, matched)
}

func TestEvaluateRuleTree_NonScalarValueDegrades(t *testing.T) {
	matched, _ := evalTree(t, `{"field":"s","operator":"Is_Equals","value":{"nested":true}}`,
		map[string]interface{}{"s": "a"})
	assert.False(t, matched)
}

func TestEvaluateRuleTree_DotPathLookup(t *testing.T) {
	payload := map[string]interface{}{
		"ticket": map[string]interface{}{
			"assignee": map[string]interface{}{"name": "jdoe"},
		},
	}
	matched, trace := evalTree(t, `{"field":"ticket.assignee.name","operator":"Is_Equals","value":"jdoe"}`, payload)
	assert.True(t, matched)
	assert.Contains(t, trace, "key: ticket.assignee.name")

	matched, _ = evalTree(t, `{"field":"ticket.reporter.name","operator":"Is_Not_Empty"}`, payload)
	assert.False(t, matched)
}

func TestEvaluateRuleTree_HTMLStripped(t *testing.T) {
	payload := map[string]interface{}{"description": "<p>server <b>down</b></p>"}
	matched, trace := evalTree(t, `{"field":"description","operator":"Contains","value":"server down"}`, payload)
	assert.True(t, matched)
	assert.Contains(t, trace, "value: server down")
}

func TestEvaluateRuleTree_DateOperators(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	evalClock = func() time.Time { return now }
	defer func() { evalClock = time.Now }()

	past := now.Add(-30 * time.Minute).UnixMilli()
	future := now.Add(30 * time.Minute).UnixMilli()

	payload := map[string]interface{}{
		"created": json.Number("x"), // replaced per case below
	}

	// is_after: now+offset must be past the field time
	payload["created"] = float64(future)
	matched, _ := evalTree(t, `{"field":"created","operator":"Is_After","hours":1}`, payload)
	assert.True(t, matched)
	matched, _ = evalTree(t, `{"field":"created","operator":"Is_After","minutes":10}`, payload)
	assert.False(t, matched)

	// is_before: now-offset must still be ahead of the field time
	payload["created"] = float64(past)
	matched, _ = evalTree(t, `{"field":"created","operator":"Is_Before","hours":1}`, payload)
	assert.True(t, matched)
	matched, _ = evalTree(t, `{"field":"created","operator":"Is_Before","minutes":10}`, payload)
	assert.False(t, matched)

	// is_between: elapsed minutes since the field must be under the window span
	matched, _ = evalTree(t, `{"field":"created","operator":"Is_Between","hours":1}`, payload)
	assert.True(t, matched, "30 elapsed < 60 span")
	matched, _ = evalTree(t, `{"field":"created","operator":"Is_Between","minutes":20}`, payload)
	assert.False(t, matched, "30 elapsed >= 20 span")
	matched, _ = evalTree(t, `{"field":"created","operator":"Is_Between","hours":2,"end_hours":1}`, payload)
	assert.True(t, matched, "span is start minus end offset")

	// non-epoch field degrades
	payload["created"] = "yesterday"
	matched, _ = evalTree(t, `{"field":"created","operator":"Is_After","hours":1}`, payload)
	assert.False(t, matched)
}

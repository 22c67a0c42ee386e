package rules

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/mediaserver"
)

// Operator identifies a leaf comparison or a group combinator
type Operator string

const (
	OperatorAnd Operator = "and"
	OperatorOr  Operator = "or"

	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorGTE         Operator = "gte"
	OperatorLTE         Operator = "lte"
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "not_contains"
	OperatorIn          Operator = "in"
	OperatorNotIn       Operator = "not_in"
	OperatorIsEmpty     Operator = "is_empty"
	OperatorIsNotEmpty  Operator = "is_not_empty"
)

// ConditionNode is either a leaf {field, operator, value} or a group
// {operator: and|or, children}. A node with children is a group regardless
// of its other fields.
type ConditionNode struct {
	Field    string          `json:"field,omitempty"`
	Operator Operator        `json:"operator,omitempty"`
	Value    interface{}     `json:"value,omitempty"`
	Children []ConditionNode `json:"children,omitempty"`
}

// IsGroup reports whether the node combines children rather than testing a field
func (n *ConditionNode) IsGroup() bool {
	return len(n.Children) > 0
}

// ParseConditions decodes a serialized condition tree. A nil or empty input
// yields a nil tree, which evaluates to true.
func ParseConditions(raw *string) (*ConditionNode, error) {
	if raw == nil || *raw == "" || *raw == "null" {
		return nil, nil
	}

	var node ConditionNode
	if err := json.Unmarshal([]byte(*raw), &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Evaluator evaluates condition trees against item snapshots. Evaluation is
// a pure function of (item, context); the only side effect is a warning log
// for unknown fields.
type Evaluator struct {
	logger *logger.Logger
}

// NewEvaluator creates a condition evaluator
func NewEvaluator(log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.Default()
	}
	return &Evaluator{logger: log}
}

// Evaluate returns whether the tree matches the item. A nil tree and an
// empty group both evaluate to true: an empty rule matches everything. That
// is deliberate, documented policy, not an accident.
func (e *Evaluator) Evaluate(node *ConditionNode, item *mediaserver.Item, evalCtx *Context) bool {
	if node == nil {
		return true
	}

	if node.IsGroup() {
		return e.evaluateGroup(node, item, evalCtx)
	}

	if node.Field == "" {
		// A childless group shell; matches everything
		return true
	}

	return e.evaluateLeaf(node, item, evalCtx)
}

func (e *Evaluator) evaluateGroup(node *ConditionNode, item *mediaserver.Item, evalCtx *Context) bool {
	switch Operator(strings.ToLower(string(node.Operator))) {
	case OperatorOr:
		for i := range node.Children {
			if e.Evaluate(&node.Children[i], item, evalCtx) {
				return true
			}
		}
		return false
	default:
		// AND is the default combinator; short-circuits on first false child
		for i := range node.Children {
			if !e.Evaluate(&node.Children[i], item, evalCtx) {
				return false
			}
		}
		return true
	}
}

func (e *Evaluator) evaluateLeaf(node *ConditionNode, item *mediaserver.Item, evalCtx *Context) bool {
	actual, known := ResolveField(Field(node.Field), item, evalCtx)
	if !known {
		// Unknown fields pass through so one bad rule cannot block
		// evaluation of everything else
		e.logger.WithFields(map[string]interface{}{
			"field": node.Field,
		}).Warn("unknown condition field, treating as match")
		return true
	}

	return applyOperator(node.Operator, actual, node.Value)
}

func applyOperator(op Operator, actual, expected interface{}) bool {
	switch op {
	case OperatorEquals:
		return looseEquals(actual, expected)
	case OperatorNotEquals:
		return !looseEquals(actual, expected)
	case OperatorGreaterThan:
		a, b, ok := bothNumeric(actual, expected)
		return ok && a > b
	case OperatorLessThan:
		a, b, ok := bothNumeric(actual, expected)
		return ok && a < b
	case OperatorGTE:
		a, b, ok := bothNumeric(actual, expected)
		return ok && a >= b
	case OperatorLTE:
		a, b, ok := bothNumeric(actual, expected)
		return ok && a <= b
	case OperatorContains:
		return containsValue(actual, expected)
	case OperatorNotContains:
		return !containsValue(actual, expected)
	case OperatorIn:
		return inList(actual, expected)
	case OperatorNotIn:
		return !inList(actual, expected)
	case OperatorIsEmpty:
		return isEmpty(actual)
	case OperatorIsNotEmpty:
		return !isEmpty(actual)
	default:
		return false
	}
}

// looseEquals compares across the JSON type lattice: numbers numerically,
// booleans directly, everything else as case-insensitive strings.
func looseEquals(actual, expected interface{}) bool {
	if a, b, ok := bothNumeric(actual, expected); ok {
		return a == b
	}

	ab, aok := actual.(bool)
	bb, bok := expected.(bool)
	if aok && bok {
		return ab == bb
	}
	if aok {
		return strings.EqualFold(asString(expected), strconv.FormatBool(ab))
	}
	if bok {
		return strings.EqualFold(asString(actual), strconv.FormatBool(bb))
	}

	return strings.EqualFold(asString(actual), asString(expected))
}

// containsValue implements case-insensitive substring containment; when the
// actual value is a list, each element is tested.
func containsValue(actual, expected interface{}) bool {
	needle := strings.ToLower(asString(expected))
	if needle == "" {
		return false
	}

	for _, hay := range asStrings(actual) {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// inList checks set membership; list-valued actuals match on any overlap
func inList(actual, expected interface{}) bool {
	set := asStrings(expected)
	for _, a := range asStrings(actual) {
		for _, b := range set {
			if strings.EqualFold(a, b) {
				return true
			}
		}
	}
	return false
}

func isEmpty(actual interface{}) bool {
	switch v := actual.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	default:
		return false
	}
}

func bothNumeric(actual, expected interface{}) (float64, float64, bool) {
	a, aok := asNumber(actual)
	b, bok := asNumber(expected)
	return a, b, aok && bok
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

// asStrings flattens scalars and lists into a slice of comparable strings
func asStrings(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, asString(item))
		}
		return out
	case nil:
		return nil
	default:
		return []string{asString(v)}
	}
}

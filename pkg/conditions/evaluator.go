// Package conditions implements the grouped boolean condition
// evaluator shared by trigger field filters and workflow branching.
package conditions

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// LogicOperator combines the results of conditions within a group.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// Condition is a single field comparison. GroupID is honored for the
// legacy flat-with-groups shape.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
	// Logic joins this group's conditions when the legacy shape is used.
	Logic LogicOperator `json:"logic,omitempty"`
}

// Group is a nested condition tree: each child is either a leaf
// Condition or another Group.
type Group struct {
	Logic      LogicOperator `json:"logic"`
	Conditions []any         `json:"conditions"`
}

// Input carries the data a condition set is evaluated against.
// Previous holds pre-update field values for the changed operators;
// it is nil outside update-diff contexts.
type Input struct {
	Data     map[string]any
	Previous map[string]any
}

// Evaluator evaluates flat, grouped, or nested condition sets.
// A failing or unknown condition evaluates to false without aborting
// the rest of the evaluation.
type Evaluator struct {
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With("module", "condition_evaluator")}
}

// EvaluateList evaluates a flat list of conditions joined by a single
// logic operator. An empty list evaluates to true.
func (e *Evaluator) EvaluateList(conditions []Condition, logic LogicOperator, input Input) bool {
	if len(conditions) == 0 {
		return true
	}

	results := make([]bool, 0, len(conditions))
	for _, cond := range conditions {
		results = append(results, e.evaluateCondition(cond, input))
	}

	return combine(results, logic)
}

// EvaluateGrouped evaluates the legacy shape: conditions tagged with a
// groupId are combined within their group by that group's logic
// operator, and group results are joined across groups with OR.
func (e *Evaluator) EvaluateGrouped(conditions []Condition, input Input) bool {
	if len(conditions) == 0 {
		return true
	}

	grouped := make(map[string][]Condition)
	order := make([]string, 0)

	for _, cond := range conditions {
		gid := cond.GroupID
		if _, seen := grouped[gid]; !seen {
			order = append(order, gid)
		}

		grouped[gid] = append(grouped[gid], cond)
	}

	groupResults := make([]bool, 0, len(order))

	for _, gid := range order {
		conds := grouped[gid]

		logic := LogicAnd
		if conds[0].Logic != "" {
			logic = conds[0].Logic
		}

		groupResults = append(groupResults, e.EvaluateList(conds, logic, input))
	}

	return combine(groupResults, LogicOr)
}

// EvaluateGroup evaluates a fully nested condition tree recursively.
func (e *Evaluator) EvaluateGroup(group Group, input Input) bool {
	if len(group.Conditions) == 0 {
		return true
	}

	logic := group.Logic
	if logic == "" {
		logic = LogicAnd
	}

	results := make([]bool, 0, len(group.Conditions))

	for _, child := range group.Conditions {
		switch c := child.(type) {
		case Condition:
			results = append(results, e.evaluateCondition(c, input))
		case Group:
			results = append(results, e.EvaluateGroup(c, input))
		case map[string]any:
			results = append(results, e.evaluateRaw(c, input))
		default:
			e.logger.Warn("Unrecognized condition node", "type", fmt.Sprintf("%T", child))
			results = append(results, false)
		}
	}

	return combine(results, logic)
}

// EvaluateRaw evaluates a condition set decoded from JSON, detecting
// whether it is a nested group or a leaf condition.
func (e *Evaluator) EvaluateRaw(raw map[string]any, input Input) bool {
	return e.evaluateRaw(raw, input)
}

func (e *Evaluator) evaluateRaw(raw map[string]any, input Input) bool {
	if nested, ok := raw["conditions"]; ok {
		group := Group{}

		if logic, ok := raw["logic"].(string); ok {
			group.Logic = LogicOperator(strings.ToUpper(logic))
		}

		if children, ok := nested.([]any); ok {
			group.Conditions = children
		}

		return e.EvaluateGroup(group, input)
	}

	cond := Condition{}
	cond.Field, _ = raw["field"].(string)
	cond.Operator, _ = raw["operator"].(string)
	cond.Value = raw["value"]

	return e.evaluateCondition(cond, input)
}

func (e *Evaluator) evaluateCondition(cond Condition, input Input) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Condition evaluation panic treated as false",
				"field", cond.Field, "operator", cond.Operator, "panic", r)

			result = false
		}
	}()

	fieldValue, found := Lookup(input.Data, cond.Field)

	switch cond.Operator {
	case "equals", "eq", "":
		return found && looseEqual(fieldValue, cond.Value)
	case "not_equals", "neq":
		return !found || !looseEqual(fieldValue, cond.Value)
	case "greater_than", "gt":
		return compareNumeric(fieldValue, cond.Value, func(a, b float64) bool { return a > b })
	case "greater_than_or_equal", "gte":
		return compareNumeric(fieldValue, cond.Value, func(a, b float64) bool { return a >= b })
	case "less_than", "lt":
		return compareNumeric(fieldValue, cond.Value, func(a, b float64) bool { return a < b })
	case "less_than_or_equal", "lte":
		return compareNumeric(fieldValue, cond.Value, func(a, b float64) bool { return a <= b })
	case "contains":
		return strings.Contains(toString(fieldValue), toString(cond.Value))
	case "not_contains":
		return !strings.Contains(toString(fieldValue), toString(cond.Value))
	case "starts_with":
		return strings.HasPrefix(toString(fieldValue), toString(cond.Value))
	case "ends_with":
		return strings.HasSuffix(toString(fieldValue), toString(cond.Value))
	case "is_null":
		return !found || fieldValue == nil
	case "is_not_null":
		return found && fieldValue != nil
	case "is_empty":
		return isEmpty(fieldValue)
	case "is_not_empty":
		return !isEmpty(fieldValue)
	case "is_true":
		return toBool(fieldValue)
	case "is_false":
		return found && !toBool(fieldValue)
	case "date_before":
		return compareDates(fieldValue, cond.Value, func(a, b time.Time) bool { return a.Before(b) })
	case "date_after":
		return compareDates(fieldValue, cond.Value, func(a, b time.Time) bool { return a.After(b) })
	case "date_between":
		return dateBetween(fieldValue, cond.Value)
	case "changed":
		return e.fieldChanged(cond.Field, input)
	case "changed_to":
		if !e.fieldChanged(cond.Field, input) {
			return false
		}

		return looseEqual(fieldValue, cond.Value)
	case "changed_from":
		if !e.fieldChanged(cond.Field, input) {
			return false
		}

		previous, _ := Lookup(input.Previous, cond.Field)

		return looseEqual(previous, cond.Value)
	default:
		e.logger.Warn("Unknown condition operator", "operator", cond.Operator, "field", cond.Field)

		return false
	}
}

func (e *Evaluator) fieldChanged(field string, input Input) bool {
	if input.Previous == nil {
		return false
	}

	current, _ := Lookup(input.Data, field)
	previous, _ := Lookup(input.Previous, field)

	return !reflect.DeepEqual(current, previous)
}

// Lookup resolves a dot-path field reference into nested maps.
func Lookup(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var current any = data

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func combine(results []bool, logic LogicOperator) bool {
	if logic == LogicOr {
		for _, r := range results {
			if r {
				return true
			}
		}

		return false
	}

	for _, r := range results {
		if !r {
			return false
		}
	}

	return true
}

func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}

	// Numeric values decoded from JSON may differ in concrete type.
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}

	return toString(a) == toString(b) && a != nil && b != nil
}

func compareNumeric(a, b any, cmp func(float64, float64) bool) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	return aok && bok && cmp(af, bf)
}

func compareDates(a, b any, cmp func(time.Time, time.Time) bool) bool {
	at, aok := toTime(a)
	bt, bok := toTime(b)

	return aok && bok && cmp(at, bt)
}

func dateBetween(value, bounds any) bool {
	list, ok := bounds.([]any)
	if !ok || len(list) != 2 {
		return false
	}

	vt, vok := toTime(value)
	lo, lok := toTime(list[0])
	hi, hok := toTime(list[1])

	return vok && lok && hok && !vt.Before(lo) && !vt.After(hi)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}

	return time.Time{}, false
}

func toString(v any) string {
	if v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)

		return err == nil && parsed
	case int, int32, int64, float32, float64:
		f, _ := toFloat(v)

		return f != 0
	default:
		return false
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value) == ""
	case []any:
		return len(value) == 0
	case map[string]any:
		return len(value) == 0
	default:
		return false
	}
}

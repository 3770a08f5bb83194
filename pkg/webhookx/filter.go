package webhookx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Abraxas-365/recibo/pkg/eventx"
)

// Match reports whether an event should be delivered to a subscription:
// the event type must be in the subscription's set and every filter rule
// must pass against the payload. A subscription with no rules matches on
// type alone.
func Match(event *eventx.Event, sub *Subscription) bool {
	if !sub.SubscribesTo(event.Type) {
		return false
	}
	if len(sub.FilterRules) == 0 {
		return true
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		// A payload the rules cannot inspect fails closed.
		return false
	}

	for _, rule := range sub.FilterRules {
		if !evalRule(rule, payload) {
			return false
		}
	}
	return true
}

// evalRule evaluates one predicate. equals and contains compare the string
// form case-sensitively. greater_than and less_than coerce both sides to
// numbers and fail closed when either side is non-numeric or absent.
func evalRule(rule FilterRule, payload map[string]interface{}) bool {
	value, ok := lookupField(payload, rule.Field)
	if !ok {
		return false
	}

	switch rule.Operator {
	case OpEquals:
		return stringify(value) == rule.Value
	case OpContains:
		return strings.Contains(stringify(value), rule.Value)
	case OpGreaterThan:
		left, lok := toNumber(value)
		right, rok := toNumber(rule.Value)
		return lok && rok && left > right
	case OpLessThan:
		left, lok := toNumber(value)
		right, rok := toNumber(rule.Value)
		return lok && rok && left < right
	default:
		return false
	}
}

// lookupField resolves a possibly dotted path ("vendor.name") in the
// payload.
func lookupField(payload map[string]interface{}, field string) (interface{}, bool) {
	parts := strings.Split(field, ".")
	var current interface{} = payload
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
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

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	case json.Number:
		n, err := t.Float64()
		return n, err == nil
	default:
		return 0, false
	}
}

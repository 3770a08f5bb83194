package webhookx_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Abraxas-365/recibo/pkg/eventx"
	"github.com/Abraxas-365/recibo/pkg/webhookx"
)

func makeEvent(t *testing.T, eventType string, payload any) *eventx.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &eventx.Event{
		ID:        "evt-1",
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now(),
	}
}

func makeSub(eventType string, rules ...webhookx.FilterRule) *webhookx.Subscription {
	return &webhookx.Subscription{
		ID:          "wh-1",
		URL:         "https://example.com/hook",
		Events:      []string{eventType},
		FilterRules: rules,
		Active:      true,
	}
}

func TestMatch_TypeMismatch(t *testing.T) {
	ev := makeEvent(t, "receipt.created", map[string]any{"amount": 10})
	sub := makeSub("receipt.processed")

	if webhookx.Match(ev, sub) {
		t.Fatal("event type not in subscription should not match")
	}
}

func TestMatch_NoRulesMatchesOnTypeAlone(t *testing.T) {
	ev := makeEvent(t, "receipt.created", map[string]any{"anything": true})
	sub := makeSub("receipt.created")

	if !webhookx.Match(ev, sub) {
		t.Fatal("zero filter rules should match on event type alone")
	}
}

func TestMatch_Equals(t *testing.T) {
	ev := makeEvent(t, "receipt.processed", map[string]any{"vendor": "ACME"})

	sub := makeSub("receipt.processed",
		webhookx.FilterRule{Field: "vendor", Operator: webhookx.OpEquals, Value: "ACME"})
	if !webhookx.Match(ev, sub) {
		t.Fatal("equal string should match")
	}

	// Comparison is case sensitive.
	sub = makeSub("receipt.processed",
		webhookx.FilterRule{Field: "vendor", Operator: webhookx.OpEquals, Value: "acme"})
	if webhookx.Match(ev, sub) {
		t.Fatal("equals must be case sensitive")
	}
}

func TestMatch_Contains(t *testing.T) {
	ev := makeEvent(t, "receipt.processed", map[string]any{"vendor": "ACME Corp GmbH"})

	sub := makeSub("receipt.processed",
		webhookx.FilterRule{Field: "vendor", Operator: webhookx.OpContains, Value: "Corp"})
	if !webhookx.Match(ev, sub) {
		t.Fatal("substring should match")
	}

	sub = makeSub("receipt.processed",
		webhookx.FilterRule{Field: "vendor", Operator: webhookx.OpContains, Value: "corp"})
	if webhookx.Match(ev, sub) {
		t.Fatal("contains must be case sensitive")
	}
}

func TestMatch_NumericComparisons(t *testing.T) {
	over := makeEvent(t, "receipt.processed", map[string]any{"amount": 150.5})
	under := makeEvent(t, "receipt.processed", map[string]any{"amount": 99})
	exact := makeEvent(t, "receipt.processed", map[string]any{"amount": 100})

	sub := makeSub("receipt.processed",
		webhookx.FilterRule{Field: "amount", Operator: webhookx.OpGreaterThan, Value: "100"})

	if !webhookx.Match(over, sub) {
		t.Fatal("150.5 > 100 should match")
	}
	if webhookx.Match(under, sub) {
		t.Fatal("99 > 100 should not match")
	}
	if webhookx.Match(exact, sub) {
		t.Fatal("greater_than is strict; 100 > 100 should not match")
	}

	sub = makeSub("receipt.processed",
		webhookx.FilterRule{Field: "amount", Operator: webhookx.OpLessThan, Value: "100"})
	if !webhookx.Match(under, sub) {
		t.Fatal("99 < 100 should match")
	}
	if webhookx.Match(over, sub) {
		t.Fatal("150.5 < 100 should not match")
	}
}

func TestMatch_NonNumericFailsClosed(t *testing.T) {
	ev := makeEvent(t, "receipt.processed", map[string]any{"amount": "not-a-number"})
	sub := makeSub("receipt.processed",
		webhookx.FilterRule{Field: "amount", Operator: webhookx.OpGreaterThan, Value: "100"})

	if webhookx.Match(ev, sub) {
		t.Fatal("non-numeric field under numeric operator must fail closed")
	}
}

func TestMatch_MissingFieldFailsClosed(t *testing.T) {
	ev := makeEvent(t, "receipt.processed", map[string]any{"vendor": "ACME"})
	sub := makeSub("receipt.processed",
		webhookx.FilterRule{Field: "amount", Operator: webhookx.OpGreaterThan, Value: "100"})

	if webhookx.Match(ev, sub) {
		t.Fatal("missing field must fail closed")
	}
}

func TestMatch_DottedPath(t *testing.T) {
	ev := makeEvent(t, "receipt.processed", map[string]any{
		"receipt": map[string]any{"vendor": map[string]any{"name": "ACME"}},
	})
	sub := makeSub("receipt.processed",
		webhookx.FilterRule{Field: "receipt.vendor.name", Operator: webhookx.OpEquals, Value: "ACME"})

	if !webhookx.Match(ev, sub) {
		t.Fatal("dotted path lookup should reach nested fields")
	}
}

func TestMatch_AllRulesMustPass(t *testing.T) {
	ev := makeEvent(t, "receipt.processed", map[string]any{"vendor": "ACME", "amount": 50})
	sub := makeSub("receipt.processed",
		webhookx.FilterRule{Field: "vendor", Operator: webhookx.OpEquals, Value: "ACME"},
		webhookx.FilterRule{Field: "amount", Operator: webhookx.OpGreaterThan, Value: "100"},
	)

	if webhookx.Match(ev, sub) {
		t.Fatal("one failing rule must veto the delivery")
	}
}

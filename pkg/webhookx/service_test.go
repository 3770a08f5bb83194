package webhookx_test

import (
	"context"
	"strings"
	"testing"

	"github.com/Abraxas-365/recibo/pkg/kernel"
	"github.com/Abraxas-365/recibo/pkg/webhookx"
	"github.com/Abraxas-365/recibo/pkg/webhookx/webhookxmem"
)

func newRegistry() *webhookx.Registry {
	return webhookx.NewRegistry(webhookxmem.NewSubscriptionStore())
}

func validInput() webhookx.CreateSubscriptionInput {
	return webhookx.CreateSubscriptionInput{
		URL:    "https://example.com/hook",
		Events: []string{"receipt.created"},
	}
}

func TestRegistry_CreateGeneratesSecret(t *testing.T) {
	reg := newRegistry()
	ctx := context.Background()

	sub, err := reg.Create(ctx, "tenant-1", validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(sub.Secret, "whsec_") {
		t.Fatalf("secret should carry the whsec_ prefix, got %q", sub.Secret)
	}
	if !sub.Active {
		t.Fatal("new subscriptions start active")
	}
	if sub.RetryPolicy.MaxRetries != 3 || sub.RetryPolicy.RetryDelaySeconds != 60 {
		t.Fatalf("default retry policy not applied: %+v", sub.RetryPolicy)
	}

	other, err := reg.Create(ctx, "tenant-1", validInput())
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if other.Secret == sub.Secret {
		t.Fatal("secrets must be unique per subscription")
	}
}

func TestRegistry_CreateValidation(t *testing.T) {
	reg := newRegistry()
	ctx := context.Background()

	cases := []struct {
		name string
		in   webhookx.CreateSubscriptionInput
	}{
		{"bad scheme", webhookx.CreateSubscriptionInput{URL: "ftp://example.com", Events: []string{"x"}}},
		{"no host", webhookx.CreateSubscriptionInput{URL: "https://", Events: []string{"x"}}},
		{"no events", webhookx.CreateSubscriptionInput{URL: "https://example.com", Events: nil}},
		{"bad operator", webhookx.CreateSubscriptionInput{
			URL:         "https://example.com",
			Events:      []string{"x"},
			FilterRules: []webhookx.FilterRule{{Field: "amount", Operator: "matches", Value: "1"}},
		}},
		{"empty field", webhookx.CreateSubscriptionInput{
			URL:         "https://example.com",
			Events:      []string{"x"},
			FilterRules: []webhookx.FilterRule{{Operator: webhookx.OpEquals, Value: "1"}},
		}},
	}
	for _, tc := range cases {
		if _, err := reg.Create(ctx, "tenant-1", tc.in); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestRegistry_OwnerIsolation(t *testing.T) {
	reg := newRegistry()
	ctx := context.Background()

	sub, err := reg.Create(ctx, "tenant-1", validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := reg.Get(ctx, "tenant-2", sub.ID); err == nil {
		t.Fatal("another owner must not see the subscription")
	}
	if err := reg.Delete(ctx, "tenant-2", sub.ID); err == nil {
		t.Fatal("another owner must not delete the subscription")
	}

	page, err := reg.List(ctx, "tenant-2", kernel.PaginationOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected empty page for other tenant, got %d", len(page.Items))
	}
}

func TestRegistry_UpdateAndDelete(t *testing.T) {
	reg := newRegistry()
	ctx := context.Background()

	sub, err := reg.Create(ctx, "tenant-1", validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	inactive := false
	newURL := "https://example.com/v2"
	updated, err := reg.Update(ctx, "tenant-1", sub.ID, webhookx.UpdateSubscriptionInput{
		URL:    &newURL,
		Active: &inactive,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.URL != newURL || updated.Active {
		t.Fatalf("update not applied: %+v", updated)
	}

	badURL := "not a url"
	if _, err := reg.Update(ctx, "tenant-1", sub.ID, webhookx.UpdateSubscriptionInput{URL: &badURL}); err == nil {
		t.Fatal("update must validate the new URL")
	}

	if err := reg.Delete(ctx, "tenant-1", sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.Get(ctx, "tenant-1", sub.ID); err == nil {
		t.Fatal("deleted subscription must be invisible to reads")
	}
	if err := reg.Delete(ctx, "tenant-1", sub.ID); err == nil {
		t.Fatal("double delete must report not found")
	}
}

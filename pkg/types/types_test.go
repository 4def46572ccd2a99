// pkg/types/types_test.go
package types

import (
	"testing"
	"time"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		name    string
		label   Label
		isValid bool
	}{
		{"login", LabelLogin, true},
		{"search", LabelSearch, true},
		{"list", LabelList, true},
		{"detail", LabelDetail, true},
		{"image download", LabelImageDownload, true},
		{"unknown", Label("CHECKOUT"), false},
		{"empty", Label(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.label.IsValid(); got != tt.isValid {
				t.Errorf("Label.IsValid() = %v, want %v", got, tt.isValid)
			}
		})
	}
}

func TestNewExecutionContext_Defaults(t *testing.T) {
	ec, err := NewExecutionContext(JobRequest{
		SiteID:    "modastore",
		StartURLs: []string{" https://shop.example.com/women ", ""},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ec.ExecutionID() == "" {
		t.Error("expected generated execution id")
	}
	opts := ec.Options()
	if opts.MaxProducts != DefaultMaxProducts {
		t.Errorf("MaxProducts = %d, want %d", opts.MaxProducts, DefaultMaxProducts)
	}
	if opts.MaxConcurrency != DefaultMaxConcurrency {
		t.Errorf("MaxConcurrency = %d, want %d", opts.MaxConcurrency, DefaultMaxConcurrency)
	}
	if opts.MaxLoadClicks != DefaultMaxLoadClicks {
		t.Errorf("MaxLoadClicks = %d, want %d", opts.MaxLoadClicks, DefaultMaxLoadClicks)
	}
	if got := ec.StartURLs(); len(got) != 1 || got[0] != "https://shop.example.com/women" {
		t.Errorf("StartURLs = %v", got)
	}
}

func TestNewExecutionContext_Immutable(t *testing.T) {
	creds := &Credentials{Username: "Buyer@Example.com", Password: "secret"}
	ec, err := NewExecutionContext(JobRequest{
		ExecutionID: "exec-1",
		SiteID:      "modastore",
		StartURLs:   []string{"https://shop.example.com/men"},
		Credentials: creds,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creds.Username = "changed"
	urls := ec.StartURLs()
	urls[0] = "https://evil.example.com"

	if ec.Credentials().Username != "Buyer@Example.com" {
		t.Error("credentials should be copied at construction")
	}
	if ec.StartURLs()[0] != "https://shop.example.com/men" {
		t.Error("start urls should not be mutable through the accessor")
	}
	if ec.Credentials().Identity() != "buyer@example.com" {
		t.Errorf("Identity() = %q", ec.Credentials().Identity())
	}
}

func TestNewExecutionContext_Invalid(t *testing.T) {
	if _, err := NewExecutionContext(JobRequest{}); err == nil {
		t.Error("expected error for missing site id")
	}
	if _, err := NewExecutionContext(JobRequest{SiteID: "x", StartURLs: []string{"not a url"}}); err == nil {
		t.Error("expected error for invalid start url")
	}
}

func TestSessionStateExpired(t *testing.T) {
	now := time.Now()
	state := &SessionState{SavedAt: now.Add(-2 * time.Hour), MaxAge: time.Hour}
	if !state.Expired(now) {
		t.Error("expected state older than MaxAge to be expired")
	}

	state.SavedAt = now.Add(-30 * time.Minute)
	if state.Expired(now) {
		t.Error("expected fresh state to be valid")
	}

	var missing *SessionState
	if !missing.Expired(now) {
		t.Error("nil state should count as expired")
	}
}

func TestRecordCloneAndWarnings(t *testing.T) {
	rec := &Record{ExternalKey: "k1", Sizes: []string{"S"}, Attributes: map[string]string{"fit": "slim"}}
	clone := rec.Clone()
	clone.Sizes[0] = "XL"
	clone.Attributes["fit"] = "loose"

	if rec.Sizes[0] != "S" || rec.Attributes["fit"] != "slim" {
		t.Error("Clone should not share slices or maps")
	}

	rec.AddWarning("missing sku")
	rec.AddWarning("missing sku")
	if len(rec.Warnings) != 1 {
		t.Errorf("expected warning to be added once, got %v", rec.Warnings)
	}

	row := rec.Row()
	if row["attr_fit"] != "slim" {
		t.Errorf("Row() attr_fit = %v", row["attr_fit"])
	}
}

package posture

import (
	"encoding/json"
	"testing"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
	}{
		{"aws", ProviderAWS},
		{"AWS", ProviderAWS},
		{" azure ", ProviderAzure},
		{"gcp", ProviderGCP},
		{"oracle", ProviderUnknown},
		{"", ProviderUnknown},
	}

	for _, tt := range tests {
		if got := ParseProvider(tt.in); got != tt.want {
			t.Errorf("ParseProvider(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   Status
		wantOK bool
	}{
		{"SUCCESS", StatusSuccess, true},
		{"failure", StatusFailure, true},
		{" Failure ", StatusFailure, true},
		{"PENDING", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseStatus(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseStatus(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseRiskLevel(t *testing.T) {
	if got, ok := ParseRiskLevel("very_high"); !ok || got != RiskVeryHigh {
		t.Errorf("ParseRiskLevel(very_high) = (%q, %v)", got, ok)
	}
	if _, ok := ParseRiskLevel("CRITICAL"); ok {
		t.Error("ParseRiskLevel(CRITICAL) ok = true, want false")
	}
}

func TestAccountUnmarshalNormalizesProvider(t *testing.T) {
	data := []byte(`{"id": "acc-1", "name": "prod", "provider": "AWS", "providerAccountId": "123456789012", "resourcesCount": 42}`)

	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if a.Provider != ProviderAWS {
		t.Errorf("Provider = %q, want aws", a.Provider)
	}
	if a.ID != "acc-1" || a.ProviderAccountID != "123456789012" || a.ResourcesCount != 42 {
		t.Errorf("account = %+v", a)
	}
}

func TestCheckUnmarshalKeepsRawPayload(t *testing.T) {
	data := []byte(`{
		"id": "chk-1",
		"accountId": "acc-1",
		"status": "FAILURE",
		"riskLevel": "VERY_HIGH",
		"service": "s3",
		"region": "us-east-1",
		"createdDateTime": "2026-08-01T10:00:00Z",
		"resolutionPageUrl": "https://example.invalid/chk-1",
		"tags": ["pci", "prod"]
	}`)

	var c Check
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if c.ID != "chk-1" || c.AccountID != "acc-1" {
		t.Errorf("lifted identity = (%q, %q)", c.ID, c.AccountID)
	}
	if c.Status != StatusFailure || c.RiskLevel != RiskVeryHigh {
		t.Errorf("lifted status/risk = (%q, %q)", c.Status, c.RiskLevel)
	}
	if c.Service != "s3" || c.Region != "us-east-1" {
		t.Errorf("lifted service/region = (%q, %q)", c.Service, c.Region)
	}

	// Fields this package does not model must survive in Raw.
	if c.Raw["resolutionPageUrl"] != "https://example.invalid/chk-1" {
		t.Errorf("Raw[resolutionPageUrl] = %v", c.Raw["resolutionPageUrl"])
	}
	if _, ok := c.Raw["tags"]; !ok {
		t.Error("Raw dropped the tags field")
	}
}

func TestCheckUnmarshalTolerantOfUnknownEnums(t *testing.T) {
	data := []byte(`{"id": "chk-2", "status": "NOT_A_STATUS", "riskLevel": "MADE_UP"}`)

	var c Check
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if c.Status != "" || c.RiskLevel != "" {
		t.Errorf("unknown enums leaked: status=%q risk=%q", c.Status, c.RiskLevel)
	}
	if c.Raw["status"] != "NOT_A_STATUS" {
		t.Error("Raw lost the original status value")
	}
}

func TestDedupKey(t *testing.T) {
	tests := []struct {
		name  string
		check Check
		want  string
	}{
		{
			name:  "composite of account and check id",
			check: Check{ID: "chk-1", AccountID: "acc-1"},
			want:  "acc-1\x00chk-1",
		},
		{
			name:  "missing id yields empty key",
			check: Check{AccountID: "acc-1"},
			want:  "",
		},
		{
			name:  "same id different account differs",
			check: Check{ID: "chk-1", AccountID: "acc-2"},
			want:  "acc-2\x00chk-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check.DedupKey(); got != tt.want {
				t.Errorf("DedupKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryWithConstraintCopies(t *testing.T) {
	base := Query{AccountID: "acc-1", Constraints: []string{"(a eq '1')"}}
	derived := base.WithConstraint("(b eq '2')")

	if len(base.Constraints) != 1 {
		t.Errorf("base mutated: %v", base.Constraints)
	}
	if len(derived.Constraints) != 2 || derived.Constraints[1] != "(b eq '2')" {
		t.Errorf("derived constraints = %v", derived.Constraints)
	}
}

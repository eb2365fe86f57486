// Package posture defines the domain model for cloud posture checks:
// accounts, findings ("checks"), and the logical queries the fetch engine
// resolves against the vendor API.
package posture

import (
	"encoding/json"
	"strings"
	"time"
)

// Provider identifies the cloud provider an account belongs to.
type Provider string

const (
	ProviderAWS     Provider = "aws"
	ProviderAzure   Provider = "azure"
	ProviderGCP     Provider = "gcp"
	ProviderUnknown Provider = "unknown"
)

// ParseProvider normalizes a provider tag from the API.
func ParseProvider(s string) Provider {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aws":
		return ProviderAWS
	case "azure":
		return ProviderAzure
	case "gcp":
		return ProviderGCP
	default:
		return ProviderUnknown
	}
}

// Status is the pass/fail outcome of a check.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// ParseStatus parses a status string, returning ok=false for anything
// other than the two known values.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(StatusSuccess):
		return StatusSuccess, true
	case string(StatusFailure):
		return StatusFailure, true
	default:
		return "", false
	}
}

// RiskLevel is the severity assigned to a check.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskVeryHigh RiskLevel = "VERY_HIGH"
	RiskExtreme  RiskLevel = "EXTREME"
)

// AllRiskLevels lists every risk level in ascending severity order.
var AllRiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskVeryHigh, RiskExtreme}

// ParseRiskLevel parses a risk level string, returning ok=false for
// unknown values.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	v := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	for _, r := range AllRiskLevels {
		if v == r {
			return r, true
		}
	}
	return "", false
}

// Account is one cloud account under posture management. The account list
// is fetched once per run and treated as immutable afterwards.
type Account struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Provider          Provider `json:"-"`
	ProviderAccountID string   `json:"providerAccountId"`

	// ResourcesCount is a sizing hint from the API, not authoritative.
	ResourcesCount int `json:"resourcesCount"`
}

// accountWire mirrors the API payload before provider normalization.
type accountWire struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId"`
	ResourcesCount    int    `json:"resourcesCount"`
}

// UnmarshalJSON normalizes the provider tag while decoding.
func (a *Account) UnmarshalJSON(data []byte) error {
	var w accountWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	a.ID = w.ID
	a.Name = w.Name
	a.Provider = ParseProvider(w.Provider)
	a.ProviderAccountID = w.ProviderAccountID
	a.ResourcesCount = w.ResourcesCount
	return nil
}

// Check is a single compliance evaluation result. Known fields are lifted
// out for filtering and dedup; Raw keeps every field the API returned so
// the exporter can emit dynamic columns without this package chasing the
// vendor's schema.
type Check struct {
	ID          string
	AccountID   string
	AccountName string
	Status      Status
	RiskLevel   RiskLevel
	Region      string
	Service     string

	CreatedDateTime           string
	UpdatedDateTime           string
	StatusUpdatedDateTime     string
	FailureDiscoveredDateTime string
	ResolvedDateTime          string

	Raw map[string]any
}

// UnmarshalJSON keeps the full payload in Raw while lifting the fields the
// engine filters and partitions on.
func (c *Check) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Raw = raw
	c.ID = stringField(raw, "id")
	c.AccountID = stringField(raw, "accountId")
	c.AccountName = stringField(raw, "accountName")
	if s, ok := ParseStatus(stringField(raw, "status")); ok {
		c.Status = s
	}
	if r, ok := ParseRiskLevel(stringField(raw, "riskLevel")); ok {
		c.RiskLevel = r
	}
	c.Region = stringField(raw, "region")
	c.Service = stringField(raw, "service")
	c.CreatedDateTime = stringField(raw, "createdDateTime")
	c.UpdatedDateTime = stringField(raw, "updatedDateTime")
	c.StatusUpdatedDateTime = stringField(raw, "statusUpdatedDateTime")
	c.FailureDiscoveredDateTime = stringField(raw, "failureDiscoveredDateTime")
	c.ResolvedDateTime = stringField(raw, "resolvedDateTime")
	return nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// DedupKey identifies a check for deduplication. Check IDs are only
// assumed unique per account, so the key is composite. Returns "" when
// the record has no ID and cannot be deduplicated safely.
func (c *Check) DedupKey() string {
	if c.ID == "" {
		return ""
	}
	return c.AccountID + "\x00" + c.ID
}

// Query is one logical request against the checks endpoint. Constraints
// carries extra server-side filter groups added by partitioning; for a
// fixed account, status and risk set, the union of all partition
// refinements of a query, deduplicated, must equal the unbounded result
// set.
type Query struct {
	AccountID  string
	Status     Status
	RiskLevels []RiskLevel

	// Created-date range sent server-side; the API cannot filter on any
	// other timestamp.
	From time.Time
	To   time.Time

	Constraints []string
}

// WithConstraint returns a copy of the query with one more filter group.
func (q Query) WithConstraint(group string) Query {
	cs := make([]string, 0, len(q.Constraints)+1)
	cs = append(cs, q.Constraints...)
	cs = append(cs, group)
	q.Constraints = cs
	return q
}

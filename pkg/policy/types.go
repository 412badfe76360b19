package policy

import (
	"net/url"
	"strings"
	"time"

	"github.com/vizor/vizor/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the fetch.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the fetch.
	SeverityError Severity = "error"

	// SeverityCritical blocks the fetch.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity deny a fetch.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module with deny rules.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity of violations that do not carry one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with Vizor. They survive reloads.
	Builtin bool `json:"builtin,omitempty"`

	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single deny rule result.
type Violation struct {
	// Policy is the name of the policy that produced the violation.
	Policy string `json:"policy"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// URL is the fetch target the violation refers to.
	URL string `json:"url,omitempty"`
}

// Input is the document exposed to Rego as input.
type Input struct {
	ChartID string            `json:"chart_id"`
	FetchID string            `json:"fetch_id"`
	URL     string            `json:"url"`
	Scheme  string            `json:"scheme"`
	Host    string            `json:"host"`
	Port    string            `json:"port,omitempty"`
	Path    string            `json:"path"`
	Method  string            `json:"method"`
	FetchAs string            `json:"fetch_as"`
	Headers map[string]string `json:"headers,omitempty"`

	// HasUserinfo reports whether the url embeds credentials.
	HasUserinfo bool `json:"has_userinfo"`
}

// NewInput builds the policy input of a fetch descriptor. A url that cannot
// be parsed yields an input with only URL set, which the builtin policies
// reject.
func NewInput(chartID string, d engine.FetchDescriptor) *Input {
	method := strings.ToUpper(d.Options.Method)
	if method == "" {
		method = "GET"
	}

	in := &Input{
		ChartID: chartID,
		FetchID: d.ID,
		URL:     d.URL,
		Method:  method,
		FetchAs: d.FetchAs,
		Headers: d.Options.Headers,
	}

	u, err := url.Parse(d.URL)
	if err != nil {
		return in
	}
	in.Scheme = strings.ToLower(u.Scheme)
	in.Host = u.Hostname()
	in.Port = u.Port()
	in.Path = u.Path
	in.HasUserinfo = u.User != nil
	return in
}

// Decision is the result of evaluating every enabled policy for one input.
type Decision struct {
	// Allowed is false when at least one blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations holds blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings holds non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors holds evaluation failures, one per failing policy.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Reasons returns the messages of the blocking violations.
func (d *Decision) Reasons() []string {
	reasons := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		reasons = append(reasons, v.Message)
	}
	return reasons
}

// PolicyBundle is a versioned collection of policies stored as one JSON file.
type PolicyBundle struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Policies    []Policy  `json:"policies"`
	CreatedAt   time.Time `json:"created_at"`
}

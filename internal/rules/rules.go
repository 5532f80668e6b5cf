// Package rules implements the first cascade tier: fixed keyword rules
// that map operational queries straight to a tool and execution layer.
package rules

import (
	"fmt"
	"regexp"
)

// MatchConfidence is the fixed confidence of a rule match.
const MatchConfidence = 0.95

// ExecutionKind names the execution channel a rule dispatches to.
type ExecutionKind string

const (
	// KindAPI - tool runs through the controller API executor.
	KindAPI ExecutionKind = "api"

	// KindSSH - tool runs through the SSH command executor.
	KindSSH ExecutionKind = "ssh"
)

// Layer returns the execution layer serving this kind.
func (k ExecutionKind) Layer() string {
	return "execution-" + string(k)
}

// Rule maps a query pattern to a tool invocation.
type Rule struct {
	// Pattern is a case-insensitive regex searched in the query.
	Pattern string `yaml:"pattern" json:"pattern"`

	// Tool is the tool to invoke on a match.
	Tool string `yaml:"tool" json:"tool"`

	// Kind selects the execution channel.
	Kind ExecutionKind `yaml:"kind" json:"kind"`

	// Confirm marks destructive tools that need user confirmation.
	Confirm bool `yaml:"confirm" json:"confirm"`
}

// Validate checks that the rule is well formed and compilable.
func (r *Rule) Validate() error {
	if r.Pattern == "" {
		return fmt.Errorf("rule pattern is required")
	}
	if _, err := regexp.Compile("(?i)" + r.Pattern); err != nil {
		return fmt.Errorf("invalid rule pattern %q: %w", r.Pattern, err)
	}
	if r.Tool == "" {
		return fmt.Errorf("rule tool is required")
	}
	if r.Kind != KindAPI && r.Kind != KindSSH {
		return fmt.Errorf("invalid rule kind %q (must be api or ssh)", r.Kind)
	}
	return nil
}

// Match is the result of a successful rule lookup.
type Match struct {
	// Tool is the matched tool name.
	Tool string `json:"tool"`

	// Layer is the execution layer to dispatch to.
	Layer string `json:"layer"`

	// Confirm is carried from the matched rule.
	Confirm bool `json:"confirm"`

	// Pattern is the rule pattern that matched, for observability.
	Pattern string `json:"pattern"`
}

// DefaultRules is the built-in rule table used when no rules file is
// configured. Order matters: the first matching rule wins.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `(block|unblock).*client`, Tool: "client_management", Kind: KindAPI},
		{Pattern: `(list|show|get).*client`, Tool: "get_clients", Kind: KindAPI},
		{Pattern: `(restart|reboot).*device`, Tool: "restart_device", Kind: KindAPI, Confirm: true},
		{Pattern: `(list|show|get).*device`, Tool: "get_devices", Kind: KindAPI},
		{Pattern: `(create|add).*network`, Tool: "create_network", Kind: KindAPI, Confirm: true},
		{Pattern: `(list|show|get).*network`, Tool: "get_networks", Kind: KindAPI},
		{Pattern: `(diagnose|troubleshoot|debug)`, Tool: "diagnostics", Kind: KindSSH},
		{Pattern: `(show|get).*(log|logs)`, Tool: "get_logs", Kind: KindSSH},
	}
}

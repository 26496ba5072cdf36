package tool

import (
	"fmt"
	"strings"
)

// ApprovalLevel is an administrator override of a tool's own approval
// decision.
type ApprovalLevel string

const (
	// ApprovalDefault defers to the tool's Approval method.
	ApprovalDefault ApprovalLevel = ""

	// ApprovalAllow runs the tool without confirmation, even if the tool
	// would ask for it.
	ApprovalAllow ApprovalLevel = "allow"

	// ApprovalAsk requires confirmation for every call of the tool.
	ApprovalAsk ApprovalLevel = "ask"

	// ApprovalDeny blocks the tool entirely.
	ApprovalDeny ApprovalLevel = "deny"
)

// Policy holds per-tool overrides. The zero value defers every decision to
// the tools themselves.
type Policy struct {
	// Default is applied to tools not explicitly listed.
	Default ApprovalLevel `yaml:"default"`

	// Tools maps tool names to explicit approval levels.
	Tools map[string]ApprovalLevel `yaml:"tools"`

	// Allow lists tools that can execute without confirmation.
	Allow []string `yaml:"allow"`

	// Ask lists tools that require confirmation before execution.
	Ask []string `yaml:"ask"`

	// Deny lists tools that must never execute.
	Deny []string `yaml:"deny"`
}

// Resolve determines the override for a tool.
// Resolution order: explicit tool mapping > lists > Default.
func (p Policy) Resolve(name string) ApprovalLevel {
	name = strings.TrimSpace(name)
	if level, ok := p.explicit(name); ok {
		return level
	}
	return p.Default
}

func (p Policy) explicit(toolName string) (ApprovalLevel, bool) {
	for name, level := range p.Tools {
		if strings.TrimSpace(name) == toolName {
			return level, true
		}
	}
	if toolInList(p.Deny, toolName) {
		return ApprovalDeny, true
	}
	if toolInList(p.Ask, toolName) {
		return ApprovalAsk, true
	}
	if toolInList(p.Allow, toolName) {
		return ApprovalAllow, true
	}
	return "", false
}

// Validate checks that levels are valid and that no tool appears with
// conflicting assignments.
func (p Policy) Validate() error {
	if p.Default != ApprovalDefault && !isValidApprovalLevel(p.Default) {
		return fmt.Errorf("tool policy: invalid default level %q", p.Default)
	}

	explicit := make(map[string]ApprovalLevel)
	for name, level := range p.Tools {
		toolName := strings.TrimSpace(name)
		if toolName == "" {
			return fmt.Errorf("tool policy: tool mapping has empty name")
		}
		if !isValidApprovalLevel(level) {
			return fmt.Errorf("tool policy: tool %q has invalid level %q", toolName, level)
		}
		explicit[toolName] = level
	}

	if err := validatePolicyList(p.Allow, ApprovalAllow, "allow", explicit); err != nil {
		return err
	}
	if err := validatePolicyList(p.Ask, ApprovalAsk, "ask", explicit); err != nil {
		return err
	}
	return validatePolicyList(p.Deny, ApprovalDeny, "deny", explicit)
}

func validatePolicyList(names []string, level ApprovalLevel, listName string, explicit map[string]ApprovalLevel) error {
	for _, rawName := range names {
		name := strings.TrimSpace(rawName)
		if name == "" {
			return fmt.Errorf("tool policy: %s list contains empty tool name", listName)
		}
		if existing, ok := explicit[name]; ok && existing != level {
			return fmt.Errorf("%w: tool %q appears in both %q and %q", ErrToolInMultipleLists, name, existing, level)
		}
		explicit[name] = level
	}
	return nil
}

func toolInList(list []string, name string) bool {
	for _, candidate := range list {
		if strings.TrimSpace(candidate) == name {
			return true
		}
	}
	return false
}

func isValidApprovalLevel(level ApprovalLevel) bool {
	switch level {
	case ApprovalAllow, ApprovalAsk, ApprovalDeny:
		return true
	default:
		return false
	}
}

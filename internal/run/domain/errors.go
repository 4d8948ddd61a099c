package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid_input")
	ErrInvalidAgentID      = errors.New("invalid_agent_id")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrAgentUnavailable    = errors.New("agent_not_available")
	ErrUpgradeRequired     = errors.New("upgrade_required")
)

const (
	ReasonNotFound        = "not_found"
	ReasonNotPublished    = "not_published"
	ReasonUpgradeRequired = "upgrade_required"
	ReasonFreeTryDisabled = "free_try_disabled"
)

// AgentAccessError means the agent is missing or not published.
type AgentAccessError struct {
	AgentID string
	Reason  string
}

func (e *AgentAccessError) Error() string {
	return fmt.Sprintf("agent %s not available: %s", e.AgentID, e.Reason)
}

func (e *AgentAccessError) Is(target error) bool {
	return target == ErrAgentUnavailable
}

// UpgradeRequiredError means the organization's plan does not grant the agent.
type UpgradeRequiredError struct {
	Plan   string
	Reason string
}

func (e *UpgradeRequiredError) Error() string {
	return fmt.Sprintf("plan %s requires upgrade: %s", e.Plan, e.Reason)
}

func (e *UpgradeRequiredError) Is(target error) bool {
	return target == ErrUpgradeRequired
}

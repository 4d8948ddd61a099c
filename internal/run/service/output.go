package service

import (
	"fmt"
	"strings"

	agentdomain "github.com/smallbiznis/agentmarket/internal/agent/domain"
	rundomain "github.com/smallbiznis/agentmarket/internal/run/domain"
)

const summaryLimit = 240

// TemplateGenerator renders a fixed summary-and-suggestions response.
type TemplateGenerator struct{}

func NewTemplateGenerator() rundomain.OutputGenerator {
	return TemplateGenerator{}
}

func (TemplateGenerator) Generate(agent *agentdomain.Agent, input string) string {
	summary := []rune(strings.TrimSpace(input))
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n", agent.Name)
	fmt.Fprintf(&b, "Mode: %s\n\n", toneFor(agent.Category))
	fmt.Fprintf(&b, "Summary:\n%s\n\n", string(summary))
	b.WriteString("Suggestions:\n")
	b.WriteString("1) Prioritize the highest impact task first.\n")
	b.WriteString("2) Validate assumptions with a small experiment.\n")
	b.WriteString("3) Convert output into a weekly execution plan.")
	return b.String()
}

func toneFor(category string) string {
	switch category {
	case "Dev":
		return "technical"
	case "Sales":
		return "commercial"
	default:
		return "strategic"
	}
}

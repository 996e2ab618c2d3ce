package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/zen-companion/backend/internal/model/persona"
)

// PromptTemplate holds the fixed instruction text for one persona.
type PromptTemplate struct {
	SystemPrompt string
	ClosingRules []string
}

// PersonaPromptManager builds system prompts from persona definitions.
type PersonaPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPersonaPromptManager creates a manager with the built-in templates.
func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the template registered for personaID.
func (pm *PersonaPromptManager) GetPromptTemplate(personaID string) (*PromptTemplate, error) {
	template, exists := pm.templates[personaID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for persona: %s", personaID)
	}
	return template, nil
}

// BuildSystemPrompt renders the instruction prepended to every relay call.
func (pm *PersonaPromptManager) BuildSystemPrompt(p *persona.Persona) string {
	template, err := pm.GetPromptTemplate(p.ID)
	if err != nil {
		return pm.buildBasicSystemPrompt(p)
	}

	var b strings.Builder
	b.WriteString(template.SystemPrompt)
	writeList(&b, "Your personality is:", p.Traits)
	writeList(&b, "Boundaries:", append(append([]string(nil), p.Guardrails...), template.ClosingRules...))
	if hint := strings.TrimSpace(p.PromptHint); hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	return b.String()
}

func (pm *PersonaPromptManager) buildBasicSystemPrompt(p *persona.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s. Speak in a %s tone.", p.Name, p.Title, p.Tone)
	writeList(&b, "Your personality is:", p.Traits)
	writeList(&b, "Boundaries:", p.Guardrails)
	if hint := strings.TrimSpace(p.PromptHint); hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(heading)
	for _, item := range items {
		b.WriteString("\n- ")
		b.WriteString(item)
	}
}

func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates[persona.DefaultID] = &PromptTemplate{
		SystemPrompt: "You are Zen, a cute and wholesome AI wellness companion.",
		ClosingRules: []string{
			"If the user mentions self-harm or a crisis, encourage them to contact local emergency services or a crisis line right away",
		},
	}
}

package ai

import (
	"fmt"
	"strings"
)

// Conversation types accepted for summaries.
const (
	ConversationConsultation = "consultation"
	ConversationFollowUp     = "followup"
	ConversationEmergency    = "emergency"
	ConversationSurgery      = "surgery"
)

// SummaryFields lists the keys every summary carries, in display order.
var SummaryFields = []string{
	"present_complaints",
	"clinical_details",
	"physical_examination",
	"impression",
	"management_plan",
	"additional_notes",
}

var fieldDescriptions = map[string]string{
	"present_complaints":   "detailed description of the patient's main symptoms",
	"clinical_details":     "relevant medical history, medications, allergies",
	"physical_examination": "vital signs and examination findings",
	"impression":           "clinical assessment and differential diagnoses",
	"management_plan":      "treatments, medications with dosages, follow-up",
	"additional_notes":     "patient education and other notes",
}

// PromptTemplate tunes the summary prompt for one conversation type.
type PromptTemplate struct {
	Focus []string
}

// PromptManager builds system prompts per conversation type.
type PromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPromptManager creates a manager with the default templates.
func NewPromptManager() *PromptManager {
	pm := &PromptManager{templates: make(map[string]*PromptTemplate)}
	pm.loadDefaultTemplates()
	return pm
}

// ValidConversationType reports whether t has a template.
func (pm *PromptManager) ValidConversationType(t string) bool {
	_, ok := pm.templates[t]
	return ok
}

// BuildSystemPrompt returns the instructions for summarizing a transcript of
// the given conversation type. Unknown types fall back to consultation.
func (pm *PromptManager) BuildSystemPrompt(conversationType string) string {
	tpl, ok := pm.templates[conversationType]
	if !ok {
		conversationType = ConversationConsultation
		tpl = pm.templates[conversationType]
	}

	var b strings.Builder
	b.WriteString("You are a medical transcription specialist analyzing a doctor-patient conversation.\n")
	fmt.Fprintf(&b, "CONVERSATION TYPE: %s\n\n", conversationType)
	b.WriteString("Extract and structure all medical information as a single JSON object with exactly these string fields:\n")
	for _, field := range SummaryFields {
		fmt.Fprintf(&b, "- %s: %s\n", field, fieldDescriptions[field])
	}
	if len(tpl.Focus) > 0 {
		b.WriteString("\nPay particular attention to:\n- ")
		b.WriteString(strings.Join(tpl.Focus, "\n- "))
		b.WriteString("\n")
	}
	b.WriteString("\nReturn ONLY valid JSON, no additional text.")
	return b.String()
}

func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates[ConversationConsultation] = &PromptTemplate{}
	pm.templates[ConversationFollowUp] = &PromptTemplate{Focus: []string{
		"changes since the previous visit",
		"response to current treatment and adherence",
	}}
	pm.templates[ConversationEmergency] = &PromptTemplate{Focus: []string{
		"time of onset and red-flag symptoms",
		"immediate interventions and their effect",
		"triage and disposition decisions",
	}}
	pm.templates[ConversationSurgery] = &PromptTemplate{Focus: []string{
		"procedure performed, findings and complications",
		"anaesthesia and post-operative instructions",
	}}
}

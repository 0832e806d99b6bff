package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tanvi/sahayak/internal/llm"
	"github.com/tanvi/sahayak/internal/registry"
	"github.com/tanvi/sahayak/internal/store"
)

// HistoryReader supplies recent conversation turns for responder context.
type HistoryReader interface {
	GetHistory(ctx context.Context, chatID string, limit int) ([]store.Message, error)
}

// Responder answers conversational and informational instructions without
// touching the execution machinery. It degrades in three tiers: structured
// envelope, plain-text retry, fixed template. The last tier still works with
// the collaborator completely unreachable.
type Responder struct {
	Collaborator llm.Collaborator
	Registry     *registry.Registry
	Prompts      *PromptManager
	History      HistoryReader
}

// envelope is the tier-one response shape requested from the model.
type envelope struct {
	Message       string `json:"message"`
	Understanding string `json:"understanding"`
	Reasoning     string `json:"reasoning"`
}

// Respond returns the reply text plus notes describing which tier produced
// it.
func (r *Responder) Respond(ctx context.Context, chatID, instruction string, cls Classification, storeContext string) (string, []string) {
	system := r.systemPrompt(cls, storeContext)
	user := r.userPrompt(ctx, chatID, instruction)

	raw, err := r.Collaborator.Complete(ctx, system, user)
	if err == nil {
		var env envelope
		if derr := llm.DecodeObject(raw, &env); derr == nil && env.Message != "" {
			return env.Message, []string{"responded via structured envelope"}
		}

		// Tier two: ask again for plain text.
		plain, perr := r.Collaborator.Complete(ctx,
			"Answer the user in plain text. One short paragraph, no JSON, no markdown.",
			user)
		if perr == nil && strings.TrimSpace(plain) != "" {
			return strings.TrimSpace(plain), []string{"responded via plain-text fallback"}
		}
	}

	// Tier three: fixed template, interpolating the live entity-type list
	// rather than a hardcoded noun.
	types := r.Registry.Types()
	text := fmt.Sprintf(
		"I couldn't reach my language model just now. I can still manage your records — currently I track: %s. Try something like \"list %s\".",
		strings.Join(types, ", "), firstOr(types, "records"))
	return text, []string{"responded via static template"}
}

func (r *Responder) systemPrompt(cls Classification, storeContext string) string {
	var sb strings.Builder
	if r.Prompts != nil {
		if persona := r.Prompts.Persona(); persona != "" {
			sb.WriteString(persona)
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString("You are an assistant managing an entity store. ")
	sb.WriteString("Respond with ONE JSON object: {\"message\": \"<reply for the user>\", ")
	sb.WriteString("\"understanding\": \"<what the user wants>\", \"reasoning\": \"<one sentence>\"}. No prose outside the JSON.\n")
	fmt.Fprintf(&sb, "\nInstruction category: %s\n", cls.Category)
	fmt.Fprintf(&sb, "Known entity types: %s\n", strings.Join(r.Registry.Types(), ", "))
	if storeContext != "" {
		sb.WriteString("\nCurrent store contents:\n")
		sb.WriteString(storeContext)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r *Responder) userPrompt(ctx context.Context, chatID, instruction string) string {
	if r.History == nil {
		return instruction
	}
	history, err := r.History.GetHistory(ctx, chatID, 5)
	if err != nil || len(history) == 0 {
		return instruction
	}

	var sb strings.Builder
	sb.WriteString("Recent conversation:\n")
	for _, m := range history {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	sb.WriteString("\nCurrent instruction: ")
	sb.WriteString(instruction)
	return sb.String()
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 {
		return values[0]
	}
	return fallback
}

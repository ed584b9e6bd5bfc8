package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/kbchat/internal/llm"
	"github.com/kalambet/kbchat/internal/retrieval"
)

const defaultMaxContextTokens = 3000

const condenseTemplate = `Given a conversation (between Human and Assistant) and a follow up message from Human, rewrite the message to be a standalone question that captures all relevant context from the conversation. Reply with the standalone question only.

<Chat History>
%s
<Follow Up Message>
%s

<Standalone question>`

const answerInstructions = `Context information is below.
---------------------
%s---------------------
Given the context information and not prior knowledge, answer the query.`

// Composer assembles the prompts sent to the LLM: the condense prompt that
// turns a follow-up into a standalone question, and the answer prompt that
// grounds the question in retrieved passages.
type Composer struct {
	MaxContextTokens int
	SystemPrompt     string
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (3000) is used.
func New(maxContextTokens int, systemPrompt string) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens, SystemPrompt: systemPrompt}
}

// Condense builds a single user message asking the model to rewrite question
// into a standalone question given the prior turns in history.
func (c *Composer) Condense(history []llm.Message, question string) []llm.Message {
	var sb strings.Builder
	for _, m := range history {
		switch m.Role {
		case llm.RoleUser:
			fmt.Fprintf(&sb, "Human: %s\n", m.Content)
		case llm.RoleAssistant:
			fmt.Fprintf(&sb, "Assistant: %s\n", m.Content)
		}
	}
	return []llm.Message{{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(condenseTemplate, sb.String(), question),
	}}
}

// Answer builds the system and user messages for the final answer. Chunks
// are injected highest score first; chunks that do not fit the remaining
// budget are dropped.
func (c *Composer) Answer(question string, chunks []retrieval.ContextChunk) []llm.Message {
	var msgs []llm.Message
	if c.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: c.SystemPrompt})
	}

	content := question
	if ctx := c.buildContext(chunks); ctx != "" {
		content = fmt.Sprintf(answerInstructions, ctx) + "\nQuery: " + question + "\nAnswer: "
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: content})
}

// buildContext concatenates as many chunks as fit into MaxContextTokens,
// best first. Returns "" when nothing fits.
func (c *Composer) buildContext(chunks []retrieval.ContextChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	sorted := make([]retrieval.ContextChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	remaining := c.MaxContextTokens - EstimateTokens(answerInstructions)

	var sb strings.Builder
	for _, ch := range sorted {
		entry := formatChunk(ch)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		sb.WriteString(entry)
		remaining -= tokens
	}
	return sb.String()
}

func formatChunk(ch retrieval.ContextChunk) string {
	return fmt.Sprintf("file_name: %s\n\n%s\n\n", ch.DocumentName, ch.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

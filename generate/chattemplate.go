package generate

import (
	"fmt"
	"strings"
)

// Message roles understood by the chat templates.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged turn of a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatTemplate renders messages the way a particular model family was
// fine-tuned to see them. It implements Tokenizer.
type ChatTemplate struct {
	Name  string
	eos   int
	start func(role string) string
	end   string
	join  string
}

// Known end-of-sequence ids for the supported model families.
const (
	ZephyrEOS = 2      // TinyLlama-1.1B-Chat </s>
	ChatMLEOS = 151645 // Qwen2.5 <|im_end|>
	PlainEOS  = 50256  // GPT-2 <|endoftext|>
)

var chatTemplates = map[string]ChatTemplate{
	"zephyr": {
		Name:  "zephyr",
		eos:   ZephyrEOS,
		start: func(role string) string { return "<|" + role + "|>\n" },
		end:   "</s>\n",
	},
	"chatml": {
		Name:  "chatml",
		eos:   ChatMLEOS,
		start: func(role string) string { return "<|im_start|>" + role + "\n" },
		end:   "<|im_end|>\n",
	},
	"plain": {
		Name:  "plain",
		eos:   PlainEOS,
		start: func(role string) string { return role + ": " },
		join:  "\n",
	},
}

// LookupChatTemplate returns the template registered under name.
func LookupChatTemplate(name string) (ChatTemplate, error) {
	t, ok := chatTemplates[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ChatTemplate{}, fmt.Errorf("unknown chat template %q (want zephyr, chatml or plain)", name)
	}
	return t, nil
}

// WithEOS returns a copy of t that reports id as its end-of-sequence token.
func (t ChatTemplate) WithEOS(id int) ChatTemplate {
	t.eos = id
	return t
}

// EOSTokenID implements Tokenizer.
func (t ChatTemplate) EOSTokenID() int {
	return t.eos
}

// ApplyChatTemplate implements Tokenizer.
func (t ChatTemplate) ApplyChatTemplate(messages []Message, addGenerationPrompt bool) string {
	parts := make([]string, 0, len(messages)+1)
	for _, m := range messages {
		parts = append(parts, t.start(m.Role)+m.Content+t.end)
	}
	if addGenerationPrompt {
		// plain has no header newline, so the assistant cue is a bare "assistant:".
		if t.Name == "plain" {
			parts = append(parts, RoleAssistant+":")
		} else {
			parts = append(parts, t.start(RoleAssistant))
		}
	}
	return strings.Join(parts, t.join)
}

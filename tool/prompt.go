package tool

import (
	"context"
	"encoding/json"
	"math/rand/v2"
)

// PromptToolName is the name the model calls the prompt tool by.
const PromptToolName = "get_a_prompt"

// DefaultPrompts are the journaling prompts offered by the prompt tool and
// by the public random-prompt endpoint.
var DefaultPrompts = []string{
	"What is something you are looking forward to this week?",
	"Describe a moment today when you felt at ease.",
	"What has been taking up most of your attention lately?",
	"Write about a conversation that stayed with you.",
	"What is one thing you would like to let go of?",
	"When did you last feel proud of yourself, and why?",
	"What drained your energy today, and what restored it?",
	"Describe a small win from the past few days.",
	"What would you tell yourself from a year ago?",
	"Is there something you have been avoiding? What makes it hard?",
	"Who made a difference in your day, even in a small way?",
	"What does a good day look like for you right now?",
}

// RandomPrompt picks one of prompts, falling back to DefaultPrompts when
// prompts is empty.
func RandomPrompt(prompts []string) string {
	if len(prompts) == 0 {
		prompts = DefaultPrompts
	}
	return prompts[rand.IntN(len(prompts))]
}

// NewPromptTool returns the tool that hands the model a random journaling
// prompt drawn from prompts.
func NewPromptTool(prompts []string) Tool {
	list := append([]string(nil), prompts...)
	return NewFuncTool(
		PromptToolName,
		"Generate a random journaling prompt to inspire reflection and self-discovery.",
		NoArgs(),
		func(context.Context, json.RawMessage) (string, error) {
			return RandomPrompt(list), nil
		},
	)
}

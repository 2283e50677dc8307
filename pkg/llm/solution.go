package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LX-HMKK/SparkBox/pkg/types"
	openai "github.com/sashabaranov/go-openai"
)

// solutionJSONInstruction mirrors mentor_module.py's JSON-only instruction
// appended to the solution system prompt.
const solutionJSONInstruction = "请务必只输出纯 JSON，不要包含 Markdown 标记。"

// SolutionAdapter is the second pipeline stage: Generate takes a
// VisionResult and returns a structured SolutionResult; Chat additionally
// takes the current solution and conversation history and returns a
// free-text reply.
type SolutionAdapter struct {
	client *openai.Client
	model  string
	prompt string
}

// NewSolutionAdapter builds an adapter from the station's
// solution_generator config.
func NewSolutionAdapter(apiKey, baseURL, model, prompt string) *SolutionAdapter {
	return &SolutionAdapter{
		client: newClient(apiKey, baseURL),
		model:  model,
		prompt: prompt,
	}
}

// Generate produces the initial SolutionResult for a freshly captured
// project, with no prior solution or conversation.
func (a *SolutionAdapter) Generate(ctx context.Context, vision types.VisionResult) (types.SolutionResult, error) {
	return a.call(ctx, vision, nil, nil, "")
}

// Chat answers a follow-up question about the current project with a
// free-text reply — not JSON — grounded on mentor_module.py's chat():
// unlike Generate, it sends an accumulated message list (a system
// message carrying the vision/current-solution context, followed by the
// conversation history as alternating user/assistant messages) and returns
// the model's raw completion text untouched. history is expected to
// already include instruction as its last user turn (the caller appends it
// to the conversation before calling Chat), so it is not sent twice.
func (a *SolutionAdapter) Chat(ctx context.Context, vision types.VisionResult, current *types.SolutionResult, history []types.Turn, instruction string) (string, error) {
	systemPrompt, err := buildChatSystemPrompt(a.prompt, vision, current)
	if err != nil {
		return "", &StageError{Stage: "solution", Err: err}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})

	sawInstruction := false
	for _, turn := range history {
		if turn.Type != types.TurnText {
			continue
		}
		role := openai.ChatMessageRoleUser
		if turn.Role == types.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		} else if turn.Content == instruction {
			sawInstruction = true
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	if !sawInstruction && instruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: instruction})
	}

	var resp openai.ChatCompletionResponse
	err = withRetry(ctx, "solution", func() error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
		})
		return callErr
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &StageError{Stage: "solution", Err: fmt.Errorf("empty response")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *SolutionAdapter) call(ctx context.Context, vision types.VisionResult, current *types.SolutionResult, history []types.Turn, instruction string) (types.SolutionResult, error) {
	prompt, err := buildSolutionPrompt(a.prompt, vision, current, history, instruction)
	if err != nil {
		return types.SolutionResult{}, &StageError{Stage: "solution", Err: err}
	}

	var resp openai.ChatCompletionResponse
	err = withRetry(ctx, "solution", func() error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: prompt},
			},
		})
		return callErr
	})
	if err != nil {
		return types.SolutionResult{}, err
	}
	if len(resp.Choices) == 0 {
		return types.SolutionResult{}, &StageError{Stage: "solution", Err: fmt.Errorf("empty response")}
	}

	raw, err := ExtractJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return types.SolutionResult{}, &StageError{Stage: "solution", Err: err}
	}

	var out types.SolutionResult
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return types.SolutionResult{}, &StageError{Stage: "solution", Err: fmt.Errorf("decode solution result: %w", err)}
	}
	return out, nil
}

// buildChatSystemPrompt assembles the system message Chat sends ahead of
// the conversation history: base prompt, vision JSON, optional current
// solution JSON. Unlike buildSolutionPrompt, it never folds history or the
// new instruction into the prompt text — those travel as their own
// user/assistant messages instead.
func buildChatSystemPrompt(base string, vision types.VisionResult, current *types.SolutionResult) (string, error) {
	var b strings.Builder
	b.WriteString(base)

	visionJSON, err := json.Marshal(vision)
	if err != nil {
		return "", fmt.Errorf("marshal vision result: %w", err)
	}
	b.WriteString("\n\n分析结果:\n")
	b.Write(visionJSON)

	if current != nil {
		currentJSON, err := json.Marshal(current)
		if err != nil {
			return "", fmt.Errorf("marshal current solution: %w", err)
		}
		b.WriteString("\n\n当前方案:\n")
		b.Write(currentJSON)
	}

	return b.String(), nil
}

// buildSolutionPrompt assembles the system prompt in the exact order
// mentor_module.py's _build_prompt_with_context uses: base prompt, vision
// JSON, optional current solution JSON, optional conversation history,
// optional new user instruction.
func buildSolutionPrompt(base string, vision types.VisionResult, current *types.SolutionResult, history []types.Turn, instruction string) (string, error) {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n")
	b.WriteString(solutionJSONInstruction)

	visionJSON, err := json.Marshal(vision)
	if err != nil {
		return "", fmt.Errorf("marshal vision result: %w", err)
	}
	b.WriteString("\n\n分析结果:\n")
	b.Write(visionJSON)

	if current != nil {
		currentJSON, err := json.Marshal(current)
		if err != nil {
			return "", fmt.Errorf("marshal current solution: %w", err)
		}
		b.WriteString("\n\n当前方案:\n")
		b.Write(currentJSON)
	}

	if len(history) > 0 {
		b.WriteString("\n\n对话历史:\n")
		for _, turn := range history {
			if turn.Type != types.TurnText {
				continue
			}
			b.WriteString(string(turn.Role))
			b.WriteString(": ")
			b.WriteString(turn.Content)
			b.WriteString("\n")
		}
	}

	if instruction != "" {
		b.WriteString("\n\n用户反馈:\n")
		b.WriteString(instruction)
	}

	return b.String(), nil
}

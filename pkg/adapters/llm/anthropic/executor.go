package anthropic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/ametller/crewd/pkg/domain"
	"github.com/ametller/crewd/pkg/ports"
)

// Executor runs tasks against the Anthropic API. The executor profile's
// role, goal and backstory become the system prompt; task description,
// expected output and upstream results become the user message. It also
// implements Delegate, so a profile with delegation authority can act as a
// hierarchical crew's manager.
type Executor struct {
	client  anthropic.Client
	profile domain.ExecutorProfile
	model   anthropic.Model
	logger  *zap.Logger
}

// NewExecutor creates an API-backed executor for the given profile.
func NewExecutor(apiKey string, profile domain.ExecutorProfile, model string, logger *zap.Logger) (*Executor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is not set")
	}
	if profile.Name == "" {
		return nil, fmt.Errorf("executor profile has no name")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeSonnet4_20250514
	}

	return &Executor{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		profile: profile,
		model:   m,
		logger:  logger.With(zap.String("executor", profile.Name)),
	}, nil
}

// Name implements ports.Executor.
func (e *Executor) Name() string { return e.profile.Name }

// Execute implements ports.Executor.
func (e *Executor) Execute(ctx context.Context, input ports.ExecutionInput) (string, error) {
	if e.profile.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.profile.MaxExecutionTime)
		defer cancel()
	}

	var sb strings.Builder
	sb.WriteString("Task: " + input.Description + "\n")
	if input.ExpectedOutput != "" {
		sb.WriteString("Expected output: " + input.ExpectedOutput + "\n")
	}
	if len(input.Memory) > 0 {
		sb.WriteString("\nRelevant context from this run:\n")
		for _, entry := range input.Memory {
			sb.WriteString("- " + entry.Content + "\n")
		}
	}
	if len(input.Context) > 0 {
		sb.WriteString("\nResults from earlier tasks:\n")
		ids := make([]string, 0, len(input.Context))
		for id := range input.Context {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", id, input.Context[id]))
		}
	}

	text, err := e.complete(ctx, sb.String())
	if err != nil {
		return "", err
	}
	e.logger.Debug("task executed", zap.String("task_id", input.TaskID))
	return text, nil
}

// Delegate implements ports.Delegator. The model is asked to answer with
// exactly one candidate name; anything else is a decision failure.
func (e *Executor) Delegate(ctx context.Context, taskDescription string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("no delegation candidates")
	}

	prompt := fmt.Sprintf(
		"You are deciding which team member should take the following task.\n"+
			"Task: %s\n\nCandidates:\n- %s\n\n"+
			"Answer with exactly one candidate name and nothing else.",
		taskDescription, strings.Join(candidates, "\n- "))

	text, err := e.complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(text)
	for _, candidate := range candidates {
		if strings.EqualFold(answer, candidate) {
			return candidate, nil
		}
	}
	// Tolerate an answer that mentions exactly one candidate.
	var matched string
	for _, candidate := range candidates {
		if strings.Contains(strings.ToLower(answer), strings.ToLower(candidate)) {
			if matched != "" {
				return "", fmt.Errorf("ambiguous delegation answer: %q", answer)
			}
			matched = candidate
		}
	}
	if matched == "" {
		return "", fmt.Errorf("delegation answer names no candidate: %q", answer)
	}
	return matched, nil
}

func (e *Executor) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: e.systemPrompt()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic api: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(variant.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("anthropic api returned no text content")
	}
	return out.String(), nil
}

func (e *Executor) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are " + e.profile.Role + ".")
	if e.profile.Goal != "" {
		sb.WriteString(" Your goal: " + e.profile.Goal + ".")
	}
	if e.profile.Backstory != "" {
		sb.WriteString("\n\n" + e.profile.Backstory)
	}
	return sb.String()
}

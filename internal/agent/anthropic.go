package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/pipeline"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
	anthropicAPIVersion       = "2023-06-01"

	// recordEntitiesTool is the single tool the model must call.
	// Forcing tool use keeps the output structured; free text never
	// reaches the parser.
	recordEntitiesTool = "record_entities"
)

const systemPrompt = `You extract actionable items from a user's free-form message.
Classify each item as a task (actionable, may have deadline/priority/category),
a todo (simple list item), or a reminder (scheduled notification, may recur).
Only record items the message actually asks for; a message may yield none.
Do not duplicate items that already exist.`

// AnthropicConfig holds configuration for the Anthropic invoker.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// AnthropicInvoker implements Invoker using the Anthropic Messages API.
type AnthropicInvoker struct {
	config AnthropicConfig
}

var _ Invoker = (*AnthropicInvoker)(nil)

// NewAnthropicInvoker creates an invoker with the given config.
func NewAnthropicInvoker(cfg AnthropicConfig) *AnthropicInvoker {
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &AnthropicInvoker{config: cfg}
}

// anthropicRequest is the request body for the Messages API.
type anthropicRequest struct {
	Model      string             `json:"model"`
	MaxTokens  int                `json:"max_tokens"`
	System     string             `json:"system,omitempty"`
	Messages   []anthropicMessage `json:"messages"`
	Tools      []anthropicTool    `json:"tools,omitempty"`
	ToolChoice map[string]any     `json:"tool_choice,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// anthropicResponse is the response from the Messages API.
type anthropicResponse struct {
	Content []anthropicRespItem `json:"content"`
	Error   *anthropicError     `json:"error,omitempty"`
}

type anthropicRespItem struct {
	Type  string          `json:"type"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// toolEntities is the forced tool's input.
type toolEntities struct {
	Entities []toolEntity `json:"entities"`
}

type toolEntity struct {
	Kind         string `json:"kind"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	DueDate      string `json:"due_date,omitempty"`
	Priority     string `json:"priority,omitempty"`
	Category     string `json:"category,omitempty"`
	Text         string `json:"text,omitempty"`
	ScheduledFor string `json:"scheduled_for,omitempty"`
	Recurrence   string `json:"recurrence,omitempty"`
}

// Infer sends the message and existing-entity context to the Messages
// API with tool use forced, and parses the tool input into proposals.
func (a *AnthropicInvoker) Infer(ctx context.Context, text string, existing []entity.Summary) ([]entity.Proposal, error) {
	reqBody := anthropicRequest{
		Model:     a.config.Model,
		MaxTokens: a.config.MaxTokens,
		System:    systemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: buildUserContent(text, existing)},
		},
		Tools:      []anthropicTool{entitiesTool()},
		ToolChoice: map[string]any{"type": "tool", "name": recordEntitiesTool},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, pipeline.NewError(pipeline.ErrCodePermanent, "marshal request", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, pipeline.NewError(pipeline.ErrCodePermanent, "create request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.config.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.config.HTTPClient.Do(req)
	if err != nil {
		return nil, pipeline.NewError(pipeline.ErrCodeTransient, "send request", "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipeline.NewError(pipeline.ErrCodeTransient, "read response", "", err)
	}

	if resp.StatusCode != http.StatusOK {
		code := pipeline.ErrCodePermanent
		if retryableStatus(resp.StatusCode) {
			code = pipeline.ErrCodeTransient
		}
		return nil, pipeline.NewError(code, "infer",
			"", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, pipeline.NewError(pipeline.ErrCodePermanent, "unmarshal response", "", err)
	}
	if apiResp.Error != nil {
		return nil, pipeline.NewError(pipeline.ErrCodePermanent, "infer",
			"", fmt.Errorf("%s: %s", apiResp.Error.Type, apiResp.Error.Message))
	}

	for _, item := range apiResp.Content {
		if item.Type == "tool_use" && item.Name == recordEntitiesTool {
			return parseToolInput(item.Input)
		}
	}
	return nil, pipeline.NewError(pipeline.ErrCodePermanent, "infer",
		"", fmt.Errorf("response contains no %s tool call", recordEntitiesTool))
}

// retryableStatus reports whether the HTTP status is worth retrying.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

func buildUserContent(text string, existing []entity.Summary) string {
	var b strings.Builder
	if len(existing) > 0 {
		b.WriteString("Existing items:\n")
		for _, s := range existing {
			fmt.Fprintf(&b, "- [%s] %s (%s", s.Type, s.Title, s.Status)
			if s.When != "" {
				fmt.Fprintf(&b, ", %s", s.When)
			}
			b.WriteString(")\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Message:\n")
	b.WriteString(text)
	return b.String()
}

func entitiesTool() anthropicTool {
	return anthropicTool{
		Name:        recordEntitiesTool,
		Description: "Record the tasks, todos and reminders extracted from the message.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entities": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"kind":          map[string]any{"type": "string", "enum": []string{"task", "todo", "reminder"}},
							"title":         map[string]any{"type": "string"},
							"description":   map[string]any{"type": "string"},
							"due_date":      map[string]any{"type": "string", "format": "date-time"},
							"priority":      map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
							"category":      map[string]any{"type": "string"},
							"text":          map[string]any{"type": "string"},
							"scheduled_for": map[string]any{"type": "string", "format": "date-time"},
							"recurrence":    map[string]any{"type": "string", "enum": []string{"once", "daily", "weekly", "monthly"}},
						},
						"required": []string{"kind"},
					},
				},
			},
			"required": []string{"entities"},
		},
	}
}

// parseToolInput converts the tool input into validated proposals.
// Malformed output is Permanent: the message is marked failed rather
// than retried, and replay reproduces the same outcome.
func parseToolInput(input json.RawMessage) ([]entity.Proposal, error) {
	var in toolEntities
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, pipeline.NewError(pipeline.ErrCodePermanent, "parse tool input", "", err)
	}

	var proposals []entity.Proposal
	for i, te := range in.Entities {
		p, err := te.proposal()
		if err != nil {
			return nil, pipeline.NewError(pipeline.ErrCodePermanent, "parse tool input",
				"", fmt.Errorf("entity %d: %w", i, err))
		}
		if err := p.Validate(); err != nil {
			return nil, pipeline.NewError(pipeline.ErrCodePermanent, "parse tool input",
				"", fmt.Errorf("entity %d: %w", i, err))
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

func (te toolEntity) proposal() (entity.Proposal, error) {
	switch entity.ProposalKind(te.Kind) {
	case entity.ProposalTask:
		p := entity.Proposal{Kind: entity.ProposalTask, Task: &entity.TaskProposal{
			Title:       te.Title,
			Description: te.Description,
			Priority:    entity.TaskPriority(te.Priority),
			Category:    te.Category,
		}}
		if p.Task.Priority == "" {
			p.Task.Priority = entity.PriorityMedium
		}
		if te.DueDate != "" {
			due, err := time.Parse(time.RFC3339, te.DueDate)
			if err != nil {
				return entity.Proposal{}, fmt.Errorf("invalid due_date: %w", err)
			}
			p.Task.DueDate = &due
		}
		return p, nil
	case entity.ProposalTodo:
		return entity.Proposal{Kind: entity.ProposalTodo, Todo: &entity.TodoProposal{
			Text: te.Text,
		}}, nil
	case entity.ProposalReminder:
		p := entity.Proposal{Kind: entity.ProposalReminder, Reminder: &entity.ReminderProposal{
			Title:      te.Title,
			Recurrence: entity.Recurrence(te.Recurrence),
		}}
		if p.Reminder.Recurrence == "" {
			p.Reminder.Recurrence = entity.RecurrenceOnce
		}
		if te.ScheduledFor != "" {
			at, err := time.Parse(time.RFC3339, te.ScheduledFor)
			if err != nil {
				return entity.Proposal{}, fmt.Errorf("invalid scheduled_for: %w", err)
			}
			p.Reminder.ScheduledFor = at
		}
		return p, nil
	default:
		return entity.Proposal{}, fmt.Errorf("unknown kind %q", te.Kind)
	}
}

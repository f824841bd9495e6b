package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/pipeline"
)

func toolUseResponse(t *testing.T, input any) string {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	resp := map[string]any{
		"content": []map[string]any{
			{"type": "tool_use", "name": recordEntitiesTool, "input": json.RawMessage(raw)},
		},
	}
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	return string(out)
}

func TestInferParsesToolUse(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(toolUseResponse(t, map[string]any{
			"entities": []map[string]any{
				{"kind": "task", "title": "file taxes", "priority": "high", "category": "Finance"},
				{"kind": "todo", "text": "buy milk"},
				{"kind": "reminder", "title": "call mom", "scheduled_for": "2026-05-02T09:00:00Z", "recurrence": "weekly"},
			},
		})))
	}))
	defer srv.Close()

	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})
	existing := []entity.Summary{{Type: entity.ItemTypeTask, ID: "t-1", Title: "old task", Status: "pending"}}

	proposals, err := inv.Infer(context.Background(), "taxes, milk, call mom weekly", existing)
	require.NoError(t, err)
	require.Len(t, proposals, 3)

	assert.Equal(t, entity.ProposalTask, proposals[0].Kind)
	assert.Equal(t, "file taxes", proposals[0].Task.Title)
	assert.Equal(t, entity.PriorityHigh, proposals[0].Task.Priority)

	assert.Equal(t, entity.ProposalTodo, proposals[1].Kind)
	assert.Equal(t, "buy milk", proposals[1].Todo.Text)

	assert.Equal(t, entity.ProposalReminder, proposals[2].Kind)
	assert.Equal(t, entity.RecurrenceWeekly, proposals[2].Reminder.Recurrence)

	// The request forces the tool and carries the existing items.
	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, recordEntitiesTool, gotReq.Tools[0].Name)
	assert.Equal(t, recordEntitiesTool, gotReq.ToolChoice["name"])
	require.Len(t, gotReq.Messages, 1)
	assert.Contains(t, gotReq.Messages[0].Content, "old task")
	assert.Contains(t, gotReq.Messages[0].Content, "taxes, milk, call mom weekly")
}

func TestInferDefaultsOptionalFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(toolUseResponse(t, map[string]any{
			"entities": []map[string]any{
				{"kind": "task", "title": "untriaged"},
				{"kind": "reminder", "title": "ping", "scheduled_for": "2026-05-02T09:00:00Z"},
			},
		})))
	}))
	defer srv.Close()

	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	proposals, err := inv.Infer(context.Background(), "text", nil)
	require.NoError(t, err)
	require.Len(t, proposals, 2)
	assert.Equal(t, entity.PriorityMedium, proposals[0].Task.Priority)
	assert.Equal(t, entity.RecurrenceOnce, proposals[1].Reminder.Recurrence)
}

func TestInferEmptyEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(toolUseResponse(t, map[string]any{"entities": []any{}})))
	}))
	defer srv.Close()

	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	proposals, err := inv.Infer(context.Background(), "just chatting", nil)
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestInferErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		transient bool
	}{
		{"throttled", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"overloaded", http.StatusServiceUnavailable, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
			_, err := inv.Infer(context.Background(), "text", nil)
			require.Error(t, err)
			assert.Equal(t, tc.transient, pipeline.IsTransient(err))
			assert.Equal(t, !tc.transient, pipeline.IsPermanent(err))
		})
	}
}

func TestInferNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := inv.Infer(context.Background(), "text", nil)
	assert.True(t, pipeline.IsTransient(err))
}

func TestInferMalformedToolInputIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(toolUseResponse(t, map[string]any{
			"entities": []map[string]any{{"kind": "note", "title": "?"}},
		})))
	}))
	defer srv.Close()

	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := inv.Infer(context.Background(), "text", nil)
	assert.True(t, pipeline.IsPermanent(err))
}

func TestInferMissingToolCallIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"sure!"}]}`))
	}))
	defer srv.Close()

	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := inv.Infer(context.Background(), "text", nil)
	assert.True(t, pipeline.IsPermanent(err))
}

func TestScriptedInvoker(t *testing.T) {
	boom := pipeline.NewError(pipeline.ErrCodeTransient, "infer", "", nil)
	inv := NewScripted(
		ScriptStep{Err: boom},
		ScriptStep{Proposals: []entity.Proposal{{Kind: entity.ProposalTodo, Todo: &entity.TodoProposal{Text: "x"}}}},
	)

	_, err := inv.Infer(context.Background(), "first", nil)
	assert.True(t, pipeline.IsTransient(err))

	proposals, err := inv.Infer(context.Background(), "second", nil)
	require.NoError(t, err)
	assert.Len(t, proposals, 1)

	_, err = inv.Infer(context.Background(), "third", nil)
	assert.True(t, pipeline.IsPermanent(err))

	assert.Equal(t, []string{"first", "second", "third"}, inv.Calls)
}

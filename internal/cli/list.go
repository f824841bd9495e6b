package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkeller/secondbrain/internal/entity"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Namespace string
	Type      string
	Limit     int
}

// ListItem is one row of the list command's output.
type ListItem struct {
	Type    string          `json:"type"`
	SortKey string          `json:"sort_key"`
	Status  string          `json:"status,omitempty"`
	Body    json.RawMessage `json:"body"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities in a namespace",
		Long: `List stored entities of one type within a namespace, in sort-key
order (messages chronologically, others by ID).

Examples:
  secondbrain list --ns user-1 --type task
  secondbrain list --ns user-1 --type message --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Namespace, "ns", "", "namespace to list (required)")
	_ = cmd.MarkFlagRequired("ns")
	cmd.Flags().StringVar(&opts.Type, "type", "", "entity type: message, task, todo or reminder (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows to return (0 = all)")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	itemType := entity.ItemType(opts.Type)
	switch itemType {
	case entity.ItemTypeMessage, entity.ItemTypeTask, entity.ItemTypeTodo, entity.ItemTypeReminder:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown type %q", opts.Type))
	}

	p, err := openPipeline(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer p.Close()

	var items []ListItem
	after := ""
	for {
		recs, cursor, err := p.store.Query(ctx, opts.Namespace, entity.SortKeyPrefix(itemType), after, 0)
		if err != nil {
			return WrapExitError(ExitCommandError, "query failed", err)
		}
		for _, rec := range recs {
			items = append(items, ListItem{
				Type:    string(rec.Type),
				SortKey: rec.SK,
				Status:  rec.Status,
				Body:    rec.Body,
			})
			if opts.Limit > 0 && len(items) >= opts.Limit {
				cursor = ""
				break
			}
		}
		if cursor == "" {
			break
		}
		after = cursor
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return out.Success(items)
	}
	return renderListText(cmd, itemType, items)
}

func renderListText(cmd *cobra.Command, itemType entity.ItemType, items []ListItem) error {
	w := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(w, "No entities found.")
		return nil
	}

	for _, item := range items {
		rec := entity.Record{Type: itemType, SK: item.SortKey, Status: item.Status, Body: item.Body}
		switch itemType {
		case entity.ItemTypeMessage:
			msg, err := entity.MessageFromRecord(rec)
			if err != nil {
				return WrapExitError(ExitCommandError, "decode message", err)
			}
			fmt.Fprintf(w, "%s  [%s]  %s\n", msg.Timestamp.Format(time.RFC3339), msg.Status, msg.RawText)
		case entity.ItemTypeTask:
			task, err := entity.TaskFromRecord(rec)
			if err != nil {
				return WrapExitError(ExitCommandError, "decode task", err)
			}
			fmt.Fprintf(w, "%s  [%s/%s]  %s (%s)\n", task.ID, task.Status, task.Priority, task.Title, task.Category)
		case entity.ItemTypeTodo:
			todo, err := entity.TodoFromRecord(rec)
			if err != nil {
				return WrapExitError(ExitCommandError, "decode todo", err)
			}
			done := " "
			if todo.Completed {
				done = "x"
			}
			fmt.Fprintf(w, "%3d. [%s] %s\n", todo.Order, done, todo.Text)
		case entity.ItemTypeReminder:
			rem, err := entity.ReminderFromRecord(rec)
			if err != nil {
				return WrapExitError(ExitCommandError, "decode reminder", err)
			}
			fmt.Fprintf(w, "%s  [%s]  %s at %s (%s)\n",
				rem.ID, rem.Status, rem.Title, rem.ScheduledFor.Format(time.RFC3339), rem.Recurrence)
		}
	}
	fmt.Fprintf(w, "%d entit%s\n", len(items), pluralYies(len(items)))
	return nil
}

func pluralYies(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

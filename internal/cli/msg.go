package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/existflow/irondesk/internal/model"
	"github.com/spf13/cobra"
)

var msgCmd = &cobra.Command{
	Use:   "msg [task-id] [message]",
	Short: "Send or read chat messages on a task",
	Long: `Send a chat message on a task, or list the task's messages when no
message is given. Messages are saved locally and pushed on the next sync.

Examples:
  irondesk msg 3f2a "On it"
  irondesk msg 3f2a`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMsg,
}

var (
	msgSender string
	msgSync   bool
)

func init() {
	msgCmd.Flags().StringVar(&msgSender, "from", "", "Sender user id (defaults to $USER)")
	msgCmd.Flags().BoolVarP(&msgSync, "sync", "s", false, "Sync with the server after sending")
}

func runMsg(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	return withApp(ctx, func(a *app) error {
		task, err := a.findTask(ctx, args[0])
		if err != nil {
			return err
		}

		if len(args) == 1 {
			return listMessages(cmd, a, task)
		}

		sender := msgSender
		if sender == "" {
			sender = currentUser()
		}
		m := model.NewMessage("", task.ID, sender, strings.Join(args[1:], " "))
		rec, err := a.orch.SendMessage(ctx, m.ToRecord().Without("id"))
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}

		fmt.Printf("✉️  Sent on \"%s\" [%s]\n", task.Title, shortID(rec.ID()))
		maybeSync(ctx, a, msgSync)
		return nil
	})
}

func listMessages(cmd *cobra.Command, a *app, task model.Task) error {
	recs, err := a.store.GetAllByIndex(cmd.Context(), model.TableMessages, "task_id", task.ID)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	msgs := make([]model.Message, 0, len(recs))
	for _, rec := range recs {
		m, err := model.MessageFromRecord(rec)
		if err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	fmt.Printf("\n💬 %s\n", task.Title)
	fmt.Println(strings.Repeat("─", 60))
	if len(msgs) == 0 {
		fmt.Println("  No messages yet.")
	}
	for _, m := range msgs {
		mark := ""
		if !m.Synced {
			mark = " (not sent)"
		}
		fmt.Printf("  %s  %-12s %s%s\n", m.CreatedAt.Local().Format("Jan 2 15:04"), m.SenderID, m.Content, mark)
	}
	fmt.Println()
	return nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "me"
}

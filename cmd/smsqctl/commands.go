package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/smsq/internal/api"
	"github.com/matheus3301/smsq/internal/lock"
	"github.com/matheus3301/smsq/internal/session"
	"github.com/spf13/cobra"
)

func init() {
	queueCmd.AddCommand(queueListCmd, queueCancelCmd, queueRetryCmd)
	rootCmd.AddCommand(statusCmd, syncCmd, sendCmd, queueCmd, countsCmd, wipeCmd)

	queueListCmd.Flags().String("status", "", "only show batches in this status (pending, sending, completed, failed)")
	sendCmd.Flags().StringSlice("to", nil, "contact ids to send to")
	sendCmd.Flags().Int("priority", 0, "batch priority, higher drains first")
	sendCmd.Flags().String("at", "", "schedule for an RFC 3339 time")
	wipeCmd.Flags().Bool("yes", false, "confirm deleting all local data for the user")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodStatus, nil)
		if err != nil {
			profile := session.Resolve(profileFlag)
			if pid := lock.Holder(session.Dir(profile)); pid == 0 {
				return fmt.Errorf("daemon for profile %q is not running", profile)
			}
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Profile: %v\n", resp["profile"])
		fmt.Printf("User:    %v\n", resp["user_id"])
		fmt.Printf("Network: %v\n", resp["network"])
		fmt.Printf("Uptime:  %sms\n", num(resp["uptime_ms"]))
		if msg, _ := resp["advisory"].(string); msg != "" {
			fmt.Printf("Notice:  %s\n", msg)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile contacts with the backend now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodReconcileContacts, nil)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		switch {
		case resp["skipped"] == true:
			fmt.Println("A sync is already running.")
		case resp["offline"] == true:
			fmt.Printf("Offline: showing %s cached contacts.\n", num(resp["contacts"]))
		default:
			fmt.Printf("Contacts: %s (pushed %s, failed %s)\n", num(resp["contacts"]), num(resp["pushed"]), num(resp["push_failed"]))
		}
		if msg, _ := resp["error"].(string); msg != "" {
			fmt.Printf("Warning: %s\n", msg)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Queue a message for the given contacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetStringSlice("to")
		priority, _ := cmd.Flags().GetInt("priority")
		at, _ := cmd.Flags().GetString("at")

		ids := make([]any, len(to))
		for i, id := range to {
			ids[i] = id
		}
		req := map[string]any{
			"text":        strings.Join(args, " "),
			"contact_ids": ids,
			"priority":    priority,
		}
		if at != "" {
			if _, err := time.Parse(time.RFC3339, at); err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			req["scheduled_at"] = at
		}
		resp, err := call(api.MethodSendMessage, req)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Queued %v (%s segments, %s RWF)\n", resp["batch_id"], num(resp["segments"]), num(resp["cost"]))
		if resp["offline"] == true {
			fmt.Println("You're offline. The message will be sent when you reconnect.")
		}
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the outbound queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued batches in drain order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		req := map[string]any{}
		if status != "" {
			req["status"] = status
		}
		resp, err := call(api.MethodListBatches, req)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		batches, _ := resp["batches"].([]any)
		if len(batches) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, item := range batches {
			b, _ := item.(map[string]any)
			fmt.Printf("%-36s %-9v p=%-3s to=%-4s %v\n", b["id"], b["status"], num(b["priority"]), num(b["recipients"]), preview(b["message"]))
			if e, _ := b["error"].(string); e != "" {
				fmt.Printf("%36s error: %s\n", "", e)
			}
		}
		return nil
	},
}

var queueCancelCmd = &cobra.Command{
	Use:   "cancel <batch-id>",
	Short: "Remove a batch that has not started sending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := call(api.MethodCancelBatch, map[string]any{"id": args[0]}); err != nil {
			return err
		}
		fmt.Printf("Cancelled %s\n", args[0])
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <batch-id>",
	Short: "Queue a failed batch again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodRetryBatch, map[string]any{"id": args[0]})
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Queued %v\n", resp["batch_id"])
		return nil
	},
}

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show how much data is stored for the user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodStorageCounts, nil)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Contacts: %s\n", num(resp["contacts"]))
		fmt.Printf("Drafts:   %s\n", num(resp["drafts"]))
		fmt.Printf("Queued:   %s\n", num(resp["queued_batches"]))
		return nil
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete the user's local data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return errors.New("refusing to wipe without --yes")
		}
		if _, err := call(api.MethodWipeUserData, map[string]any{"confirm": true}); err != nil {
			return err
		}
		fmt.Println("Local data wiped.")
		return nil
	},
}

func preview(v any) string {
	s, _ := v.(string)
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}

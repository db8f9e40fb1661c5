package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/matheus3301/smsq/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	contactsCmd.AddCommand(contactsListCmd, contactsAddCmd, contactsDeleteCmd, contactsImportCmd)
	draftsCmd.AddCommand(draftsListCmd, draftsSaveCmd, draftsShowCmd, draftsDeleteCmd)
	rootCmd.AddCommand(contactsCmd, draftsCmd)

	draftsSaveCmd.Flags().String("id", "", "update an existing draft")
	draftsSaveCmd.Flags().String("title", "", "draft title (default \"Draft <date>\")")
	draftsSaveCmd.Flags().StringSlice("to", nil, "contact ids the draft is for")
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List and manage contacts",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached contacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodListContacts, nil)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		list, _ := resp["contacts"].([]any)
		if len(list) == 0 {
			fmt.Println("No contacts.")
			return nil
		}
		for _, item := range list {
			printContact(item)
		}
		return nil
	},
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <name> <phone>",
	Short: "Add a contact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodAddContact, map[string]any{"name": args[0], "phone": args[1]})
		if err != nil {
			return err
		}
		return reportContacts(resp, "Added")
	},
}

var contactsDeleteCmd = &cobra.Command{
	Use:   "delete <contact-id>",
	Short: "Delete a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodDeleteContact, map[string]any{"id": args[0]})
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Deleted %s\n", args[0])
		if resp["offline"] == true {
			fmt.Println("You're offline. The contact was only removed from this device.")
		}
		return nil
	},
}

var contactsImportCmd = &cobra.Command{
	Use:   "import <file.csv|->",
	Short: "Import name,phone rows as phonebook contacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			r = f
		}
		entries, err := readEntries(r)
		if err != nil {
			return err
		}
		resp, err := call(api.MethodImportContacts, map[string]any{"contacts": entries})
		if err != nil {
			return err
		}
		return reportContacts(resp, "Imported")
	},
}

// readEntries parses name,phone rows. A first row of "name,phone" is
// treated as a header.
func readEntries(r io.Reader) ([]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []any
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && len(rec) >= 2 && strings.EqualFold(rec[0], "name") && strings.EqualFold(rec[1], "phone") {
			continue
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want name,phone", line)
		}
		out = append(out, map[string]any{"name": rec[0], "phone": rec[1]})
	}
	if len(out) == 0 {
		return nil, errors.New("no contacts in input")
	}
	return out, nil
}

func reportContacts(resp map[string]any, verb string) error {
	if jsonFlag {
		outputJSON(resp)
		return nil
	}
	list, _ := resp["contacts"].([]any)
	fmt.Printf("%s %d contact(s)\n", verb, len(list))
	for _, item := range list {
		printContact(item)
	}
	if resp["offline"] == true {
		fmt.Println("You're offline. Saved locally; they will sync when you reconnect.")
	}
	return nil
}

func printContact(item any) {
	c, _ := item.(map[string]any)
	state := "synced"
	if c["synced"] != true {
		state = "local"
	}
	fmt.Printf("%-42v %-24v %-16v %s\n", c["id"], c["name"], c["phone"], state)
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Save and reuse message drafts",
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drafts, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodListDrafts, nil)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		list, _ := resp["drafts"].([]any)
		if len(list) == 0 {
			fmt.Println("No drafts.")
			return nil
		}
		for _, item := range list {
			d, _ := item.(map[string]any)
			fmt.Printf("%-36v %-20v to=%-4s %v\n", d["id"], d["title"], num(d["recipient_count"]), preview(d["text"]))
		}
		return nil
	},
}

var draftsSaveCmd = &cobra.Command{
	Use:   "save [message]",
	Short: "Save a draft",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		to, _ := cmd.Flags().GetStringSlice("to")

		ids := make([]any, len(to))
		for i, v := range to {
			ids[i] = v
		}
		resp, err := call(api.MethodSaveDraft, map[string]any{
			"id":          id,
			"title":       title,
			"text":        strings.Join(args, " "),
			"contact_ids": ids,
		})
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Saved %v (%v)\n", resp["id"], resp["title"])
		return nil
	},
}

var draftsShowCmd = &cobra.Command{
	Use:   "show <draft-id>",
	Short: "Load a draft for sending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodLoadDraft, map[string]any{"id": args[0]})
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Println(resp["text"])
		ids, _ := resp["contact_ids"].([]any)
		to := make([]string, 0, len(ids))
		for _, v := range ids {
			to = append(to, fmt.Sprint(v))
		}
		fmt.Printf("To: %s (%s recipients, %s RWF)\n", strings.Join(to, ","), num(resp["recipient_count"]), num(resp["estimate_cost"]))
		return nil
	},
}

var draftsDeleteCmd = &cobra.Command{
	Use:   "delete <draft-id>",
	Short: "Discard a draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := call(api.MethodDeleteDraft, map[string]any{"id": args[0]}); err != nil {
			return err
		}
		fmt.Printf("Deleted draft %s\n", args[0])
		return nil
	},
}

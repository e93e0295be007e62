package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "messages per page")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <chat-id>",
	Short: "Show the newest messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getAuthClient()

		page, err := client.History(context.Background(), args[0], 0, historyLimit)
		if err != nil {
			return err
		}

		if page.HasMore {
			fmt.Println("(older messages available)")
		}
		for _, m := range page.Messages {
			printMessage(m)
		}
		return nil
	},
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatsCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List conversations with unread counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getAuthClient()

		chats, err := client.ListChats(context.Background())
		if err != nil {
			return err
		}
		if len(chats) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}

		for _, c := range chats {
			unread := ""
			if c.Unread > 0 {
				unread = fmt.Sprintf(" [%d unread]", c.Unread)
			}
			fmt.Printf("%-36s  %-5s  %s%s\n", c.ID, c.Type, c.Title, unread)
			if c.LastText != "" {
				fmt.Printf("%38s%s: %s\n", "", c.LastSender, c.LastText)
			}
		}
		return nil
	},
}

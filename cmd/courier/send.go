package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	courier "github.com/courierim/courier-go"
)

var sendReplyTo int64

func init() {
	sendCmd.Flags().Int64Var(&sendReplyTo, "reply-to", 0, "message id to reply to")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>",
	Short: "Send a text message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getAuthClient()

		var opts *courier.SendOptions
		if sendReplyTo > 0 {
			opts = &courier.SendOptions{ReplyToID: sendReplyTo}
		}

		res, err := client.SendMessage(context.Background(), args[0], args[1], opts)
		if err != nil {
			return err
		}
		fmt.Printf("Sent (id %d)\n", res.ID)
		return nil
	},
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	courier "github.com/courierim/courier-go"
)

var watchChat string

func init() {
	watchCmd.Flags().StringVarP(&watchChat, "chat", "c", "", "open this conversation (acks reads)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow events live with auto-reconnect",
	Long: "Connect to the event stream and print messages as they arrive.\n" +
		"The resume cursor is persisted, so missed events replay on the next run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getAuthClient()
		log := getLogger()

		path, err := storePath(cfg)
		if err != nil {
			return err
		}
		store, err := courier.OpenStore(path, log)
		if err != nil {
			return err
		}
		defer store.Close()

		session := courier.NewSession(client, courier.SessionConfig{
			Username: cfg.Auth.Username,
			Store:    store,
			Logger:   log,
		})

		session.OnMessage(func(m courier.Message) {
			printMessage(m)
		})
		session.OnTypersChanged(func(typers []string) {
			if len(typers) > 0 {
				fmt.Printf("-- %s typing...\n", strings.Join(typers, ", "))
			}
		})
		session.OnStatusChanged(func(chatID string, messageID int64, status courier.DeliveryStatus) {
			fmt.Printf("-- message %d: %s\n", messageID, status)
		})
		session.OnCallState(func(cs courier.CallSession) {
			fmt.Printf("-- call %s: %s\n", cs.ID, cs.State)
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
		}()

		lost := make(chan struct{}, 1)
		session.OnConnectionState(func(state courier.ConnState) {
			fmt.Printf("-- %s\n", state)
			if state == courier.StateDisconnected {
				select {
				case lost <- struct{}{}:
				default:
				}
			}
		})

		recon := courier.NewReconnector()
		for {
			if err := session.Connect(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
			} else {
				recon.MarkConnected()
				if watchChat != "" {
					session.SetNearBottom(ctx, true)
					if err := session.OpenConversation(ctx, watchChat); err != nil {
						fmt.Fprintf(os.Stderr, "open conversation: %v\n", err)
					}
				}
				select {
				case <-ctx.Done():
					session.Disconnect()
					return nil
				case <-lost:
				}
			}

			delay := recon.NextDelay()
			fmt.Printf("-- reconnecting in %s\n", delay.Round(time.Millisecond))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}
	},
}

// printMessage renders one message line for the terminal.
func printMessage(m courier.Message) {
	if m.DeletedForAll {
		fmt.Printf("[%s] %s: (deleted)\n", formatTime(m.CreatedAt), m.Sender)
		return
	}
	text := m.Text
	if m.MediaKind != "" {
		text = fmt.Sprintf("[%s] %s", m.MediaKind, text)
	}
	edited := ""
	if m.IsEdited {
		edited = " (edited)"
	}
	fmt.Printf("[%s] %s: %s%s\n", formatTime(m.CreatedAt), m.Sender, text, edited)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	courier "github.com/courierim/courier-go"
)

var callsLimit int

func init() {
	callsCmd.Flags().IntVarP(&callsLimit, "limit", "n", 20, "records to show")
	rootCmd.AddCommand(callsCmd)
}

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Show the local call log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := storePath(cfg)
		if err != nil {
			return err
		}
		store, err := courier.OpenStore(path, getLogger())
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.CallLog(callsLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No calls recorded.")
			return nil
		}
		for _, r := range records {
			dur := "-"
			if r.Duration > 0 {
				dur = fmt.Sprintf("%ds", r.Duration)
			}
			fmt.Printf("%s  %-5s  %-12s  %-8s  %s\n",
				formatTime(r.StartedAt), r.Mode, r.Reason, dur, r.Initiator)
		}
		return nil
	},
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"autocom/internal/digest"
)

var digestHours int

// digestCmd prints a digest of recent messages
var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Print a digest of recent messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		now := time.Now()
		msgs, err := a.store.QueryMessages(now.Add(-time.Duration(digestHours) * time.Hour))
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Printf("No messages in the last %d hours.\n", digestHours)
			return nil
		}
		fmt.Println(digest.Format(a.digester.Generate(msgs, now)))
		return nil
	},
}

func init() {
	digestCmd.Flags().IntVar(&digestHours, "hours", 24, "how far back to look")
}

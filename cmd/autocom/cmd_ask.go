package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// askCmd runs a single command through the pipeline
var askCmd = &cobra.Command{
	Use:   "ask [command]",
	Short: "Run one natural-language command and print the response",
	Long: `Runs a single command through intent classification and execution,
then exits. Useful for scripting and for trying the pipeline without
the daemon.

Example:
  autocom ask "summarize my messages"
  autocom ask "always notify me about alice@example.com"`,
	Args: cobra.MinimumNArgs(1),
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

		ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.GetInferenceTimeout())
		defer cancel()

		resp, err := a.orc.HandleCommand(ctx, "cli", strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(resp)

		// Give handlers a moment to drain before close.
		time.Sleep(100 * time.Millisecond)
		return nil
	},
}

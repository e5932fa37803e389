package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var nextNumberCmd = &cobra.Command{
	Use:   "next-number",
	Short: "Print the number the next invoice will receive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(30 * time.Second)
		defer cancel()

		a, err := newApp(ctx, cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		number, err := a.service.PeekNextInvoiceNumber(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), number)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(nextNumberCmd)
}

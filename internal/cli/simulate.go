package cli

import (
	"github.com/spf13/cobra"

	"tibber-pricing/internal/alerting"
	"tibber-pricing/internal/app"
)

var (
	simulateEntry string
	simulateKind  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send the cheapest or priciest hour notice for today right away",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Entry: simulateEntry,
			Kind:  simulateKind,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateEntry, "entry", "", "Entry name (defaults to the first configured entry)")
	simulateCmd.Flags().StringVar(&simulateKind, "kind", alerting.KindCheapest, "Notice kind: cheapest or priciest")
}

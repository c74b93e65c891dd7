package cli

import (
	"github.com/spf13/cobra"

	"tibber-pricing/internal/app"
)

var statesEntry string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Fetch prices once and print the sensors of every entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context())
	},
}

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "List the sensor states last written to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().States(cmd.Context(), app.StatesOptions{Entry: statesEntry})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the price overview is reachable for every entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Validate(cmd.Context())
	},
}

func init() {
	statesCmd.Flags().StringVar(&statesEntry, "entry", "", "Only list states of this entry")
}

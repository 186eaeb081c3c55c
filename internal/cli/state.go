package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the stored session state as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := rt.Registry.Get(cmd.Context(), deviceID)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(s.Snapshot(cmd.Context()), "", "  ")
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the playbook and any pending check-in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := rt.Registry.Get(cmd.Context(), deviceID)
		if err != nil {
			return err
		}
		if err := s.Reset(cmd.Context()); err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "Conversation reset.")
		return err
	},
}

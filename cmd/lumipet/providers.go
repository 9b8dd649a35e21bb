package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List provider types and configured instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			pet, _, err := setup()
			if err != nil {
				return err
			}
			defer pet.Shutdown()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Provider types:")
			for _, meta := range pet.Providers.List() {
				fmt.Fprintf(out, "  %s (%s) %s\n", meta.ID, kindLabel(meta.Kind), meta.DisplayName)
			}

			entries := pet.Instances.List()
			if len(entries) == 0 {
				fmt.Fprintln(out, "\nNo instances configured.")
				return nil
			}
			fmt.Fprintln(out, "\nInstances:")
			w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "  ID\tTYPE\tKIND\tSTATUS\tPRIMARY\tERROR")
			for _, e := range entries {
				primary := ""
				if e.Primary {
					primary = "*"
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
					e.Config.ID, e.Config.ProviderID, kindLabel(e.Config.Kind),
					e.Status, primary, e.Err)
			}
			return w.Flush()
		},
	}
}

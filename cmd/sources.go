package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/archive-ingest/internal/parser"
)

func newSourcesCmd() *cobra.Command {
	var showProfiles bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Lists configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			if showProfiles {
				for _, name := range parser.Names(cfg.Profiles) {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROFILE\tLABEL\tLOCATIONS")
			for _, src := range cfg.Sources {
				profile, err := cfg.Profile(src)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", src.ID, profile.Name, src.Label, strings.Join(src.Locations, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&showProfiles, "profiles", false, "list parsing profile names instead of sources")
	return cmd
}

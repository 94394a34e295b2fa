// Package main implements ordermatchd, the partner and material
// resolution service.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file; empty uses defaults and
	// ORDERMATCH_* environment variables only.
	configPath string

	version = "dev"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "ordermatchd",
		Short: "Resolve extracted order documents to catalog partners and materials",
		Long: `ordermatchd resolves the sold-to, ship-to and consignee parties and the
line-item materials of an extracted purchase order against the customer and
material catalogs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ORDERMATCH_CONFIG"), "path to the YAML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newResolveCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ordermatchd", version)
		},
	})
	return root
}

package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

func newMachineIDCommand(c *cli) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "machine-id",
		Short: "Print this machine's id for the license request",
		Long: `Print the machine id the vendor binds a license to. Send it to the
vendor to request a license file. --verbose also lists which hardware
signals were read; only digests of their values are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(cmd); err != nil {
				return err
			}
			fp, err := c.fingerprintProvider().ComputeFingerprint(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !verbose {
				fmt.Fprintln(out, fp.MachineID)
				return nil
			}

			fmt.Fprintf(out, "Machine ID:                     %s\n", fp.MachineID)
			fmt.Fprintf(out, "Degraded:                       %t\n", fp.Degraded)
			if len(fp.Missing) > 0 {
				fmt.Fprintf(out, "Missing signals:                %s\n", strings.Join(fp.Missing, ", "))
			}
			fmt.Fprintln(out, rule)
			for _, name := range slices.Sorted(maps.Keys(fp.Signals)) {
				fmt.Fprintf(out, "%-32s%s\n", name, fp.Signals[name])
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show the signals behind the id")
	return cmd
}

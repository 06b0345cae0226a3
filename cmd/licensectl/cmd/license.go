package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	licerrors "licensor/internal/errors"
	"licensor/internal/license"
	"licensor/internal/validation"
)

const rule = "_________________________________________________________________________"

func newActivateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "activate <license-file>",
		Aliases: []string{"import"},
		Short:   "Import a license file and activate this machine",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(cmd); err != nil {
				return err
			}
			data, err := validation.NewFileValidator(c.logger).ReadLicenseFile(args[0])
			if err != nil {
				return err
			}

			core, err := c.openCore(cmd)
			if err != nil {
				return err
			}
			defer core.Close()

			result, err := core.Manager.Activate(cmd.Context(), data)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Activation result:")
			fmt.Fprintln(out, rule)
			fmt.Fprintf(out, "Status:                         %s\n", result.Status)
			fmt.Fprintf(out, "Message:                        %s\n", result.Message)
			if err == nil {
				fmt.Fprintf(out, "License ID:                     %s\n", result.LicenseID)
				fmt.Fprintf(out, "Expires:                        %s\n", formatExpiry(result.ExpiresAt))
				fmt.Fprintf(out, "Features:                       %s\n", strings.Join(result.Features, ", "))
			}
			fmt.Fprintln(out, rule)
			return err
		},
	}
}

func newStatusCommand(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the activation status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := c.openCore(cmd)
			if err != nil {
				return err
			}
			defer core.Close()

			core.Manager.GetStatus(cmd.Context())
			info := core.Manager.Info()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			printInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func newValidateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Re-validate the stored activation now",
		Long: `Re-run the full validation against the current hardware. The exit code
is 0 while the license is usable, including a grace period, and the
failure category's code otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := c.openCore(cmd)
			if err != nil {
				return err
			}
			defer core.Close()

			status := core.Manager.ValidateNow(cmd.Context())
			printInfo(cmd.OutOrStdout(), core.Manager.Info())
			if !status.Usable() {
				return licerrors.NewLicenseError(status.Category(), "validate", errors.New(status.Message()))
			}
			return nil
		},
	}
}

func newDeactivateCommand(c *cli) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Remove the activation from every storage location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd, "The license must be imported again to use the application. Deactivate?") {
				return errors.New("aborted")
			}

			core, err := c.openCore(cmd)
			if err != nil {
				return err
			}
			defer core.Close()

			if err := core.Manager.Deactivate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "License deactivated.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func printInfo(w io.Writer, info license.Info) {
	fmt.Fprintln(w, "License status:")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Status:                         %s\n", info.Status)
	fmt.Fprintf(w, "Message:                        %s\n", info.Message)
	if info.LicenseID != "" {
		fmt.Fprintf(w, "License ID:                     %s\n", info.LicenseID)
		fmt.Fprintf(w, "Customer:                       %s\n", info.CustomerRef)
		fmt.Fprintf(w, "Machine ID:                     %s\n", info.MachineID)
		fmt.Fprintf(w, "Features:                       %s\n", strings.Join(info.Features, ", "))
		fmt.Fprintf(w, "Expires:                        %s\n", formatExpiry(info.ExpiresAt))
		if info.DaysLeft != nil {
			fmt.Fprintf(w, "Days left:                      %d\n", *info.DaysLeft)
		}
		if info.ActivatedAt != nil {
			fmt.Fprintf(w, "Activated:                      %s\n", info.ActivatedAt.Format(time.RFC3339))
		}
		if info.LastValidatedAt != nil {
			fmt.Fprintf(w, "Last validated:                 %s\n", info.LastValidatedAt.Format(time.RFC3339))
		}
		if info.GraceEndsAt != nil {
			fmt.Fprintf(w, "Grace period ends:              %s\n", info.GraceEndsAt.Format(time.RFC3339))
		}
	}
	fmt.Fprintln(w, rule)
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "Never (perpetual)"
	}
	return t.Format(time.RFC3339)
}

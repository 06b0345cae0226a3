package cmd

import (
	"github.com/spf13/cobra"

	"licensor/internal/app"
	"licensor/internal/infrastructure"
)

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the license service and its loopback API",
		Long: `Run periodic validation, the storage watcher and the loopback HTTP API
until interrupted. Logs follow the logging section of the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(cmd); err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				c.cfg.Logging.Level = c.logLevel
			}
			logger, err := infrastructure.InitializeLogger(c.cfg.Logging)
			if err != nil {
				return err
			}
			defer infrastructure.CloseLogFile()

			application, err := app.NewApplication(cmd.Context(), c.cfg, logger, c.coreOpts...)
			if err != nil {
				return err
			}
			return application.Run(cmd.Context())
		},
	}
}

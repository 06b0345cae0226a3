package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"licensor/internal/app"
	"licensor/internal/config"
	licerrors "licensor/internal/errors"
	"licensor/internal/infrastructure"
	"licensor/internal/security"
)

// VERSION, BUILD_DATE and GIT_REVISION are set with -ldflags at release time
var VERSION, BUILD_DATE, GIT_REVISION string

// Option customizes the command tree, mostly for tests
type Option func(*cli)

// WithCoreOptions passes options to every license core the commands open
func WithCoreOptions(opts ...app.CoreOption) Option {
	return func(c *cli) { c.coreOpts = append(c.coreOpts, opts...) }
}

// WithFingerprints replaces the platform fingerprint provider
func WithFingerprints(fp *security.FingerprintProvider) Option {
	return func(c *cli) {
		c.fingerprints = fp
		c.coreOpts = append(c.coreOpts, app.WithFingerprints(fp))
	}
}

// cli holds state shared by the subcommands
type cli struct {
	configFile string
	logLevel   string

	cfg          *config.Config
	logger       *slog.Logger
	fingerprints *security.FingerprintProvider
	coreOpts     []app.CoreOption
}

// NewRootCommand builds the licensectl command tree
func NewRootCommand(opts ...Option) *cobra.Command {
	c := &cli{}
	for _, opt := range opts {
		opt(c)
	}

	root := &cobra.Command{
		Use:   "licensectl",
		Short: "Inspect and manage the license on this machine",
		Long: `licensectl shows this machine's id, imports license files, reports the
activation status and runs the local license service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "Config file (default: search licensor.yaml)")
	flags.StringVar(&c.logLevel, "log-level", "warn", "Log level for command output: debug, info, warn or error")

	root.AddCommand(
		newMachineIDCommand(c),
		newActivateCommand(c),
		newStatusCommand(c),
		newValidateCommand(c),
		newDeactivateCommand(c),
		newServeCommand(c),
		newTelemetryCommand(c),
		newVersionCommand(),
	)
	return root
}

// Execute runs licensectl and returns the process exit code
func Execute(args []string, stdin io.Reader, stdout, stderr io.Writer, opts ...Option) int {
	return ExecuteContext(context.Background(), args, stdin, stdout, stderr, opts...)
}

// ExecuteContext is Execute bound to ctx. Every failure exits with its
// category's code; usage and file errors are InvalidArguments.
func ExecuteContext(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, opts ...Option) int {
	root := NewRootCommand(opts...)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		category := licerrors.CommandCategory(err)
		fmt.Fprintf(stderr, "[ERROR] %s: %s\n", category, category.UserMessage())
		if category == licerrors.CategoryInvalidArguments {
			fmt.Fprintf(stderr, "        %s\n", err)
		}
		return category.ExitCode()
	}
	return 0
}

// setup loads the configuration and a stderr logger
func (c *cli) setup(cmd *cobra.Command) error {
	if c.cfg != nil {
		return nil
	}
	if c.configFile != "" {
		if err := os.Setenv(config.EnvPrefix+"_CONFIG_FILE", c.configFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", c.logLevel, err)
	}
	c.cfg = cfg
	c.logger = infrastructure.NewLoggerWithWriter(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	return nil
}

// openCore loads the configuration and opens the license core
func (c *cli) openCore(cmd *cobra.Command) (*app.Core, error) {
	if err := c.setup(cmd); err != nil {
		return nil, err
	}
	return app.NewCore(cmd.Context(), c.cfg, c.logger, c.coreOpts...)
}

func (c *cli) fingerprintProvider() *security.FingerprintProvider {
	if c.fingerprints != nil {
		return c.fingerprints
	}
	return security.NewFingerprintProvider(c.cfg.Fingerprint.IdentitySignals, c.logger)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"ver"},
		Short:   "Print the licensectl version",
		Run: func(cmd *cobra.Command, args []string) {
			version := VERSION
			if version == "" {
				version = config.AppVersion
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Build Version:    ", version)
			fmt.Fprintln(out, "Build date:       ", BUILD_DATE)
			fmt.Fprintln(out, "Git commit:       ", GIT_REVISION)
		},
	}
}

// confirm asks a y/N question on the command's input
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(answer), "y")
}

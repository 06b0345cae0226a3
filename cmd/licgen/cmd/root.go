package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"licensor/internal/config"
	licerrors "licensor/internal/errors"
)

// VERSION, BUILD_DATE and GIT_REVISION are set with -ldflags at release time
var VERSION, BUILD_DATE, GIT_REVISION string

// NewRootCommand builds the licgen command tree
func NewRootCommand() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:           "licgen",
		Short:         "Vendor tool that issues signed license files",
		Long:          "licgen creates the vendor signing keys and issues license files bound to a customer machine id. It runs offline.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Print debug logs")

	root.AddCommand(
		newGenerateKeysCommand(),
		newIssueLicenseCommand(),
		newInspectCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs licgen and returns the process exit code. Every failure exits
// with its category's code; usage and file errors are InvalidArguments.
func Execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		return reportError(stderr, err)
	}
	return 0
}

func reportError(w io.Writer, err error) int {
	category := licerrors.CommandCategory(err)
	fmt.Fprintf(w, "[ERROR] %s: %s\n", category, category.UserMessage())
	fmt.Fprintf(w, "        %s\n", err)
	return category.ExitCode()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"ver"},
		Short:   "Print the licgen version",
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

// readPassphrase loads a passphrase file; the trailing newline is dropped
func readPassphrase(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase file: %w", err)
	}
	return []byte(strings.TrimRight(string(data), "\r\n")), nil
}

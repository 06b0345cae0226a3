package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"licensor/internal/config"
	"licensor/internal/security"
	"licensor/internal/validation"
)

func newGenerateKeysCommand() *cobra.Command {
	var (
		outDir         string
		force          bool
		passphraseFile string
		bits           int
	)

	cmd := &cobra.Command{
		Use:     "generate-keys",
		Aliases: []string{"gen-keys", "keygen"},
		Short:   "Generate the vendor signing key pair",
		Long: `Generate an RSA key pair for signing license files.

The private key stays on the vendor machine. Copy the public key to
internal/config/keys/vendor_public.pem before building the application.
An existing private key is only replaced after confirmation or with --force.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, err := readPassphrase(passphraseFile)
			if err != nil {
				return err
			}

			if err := validation.NewFileValidator(slog.Default()).ValidateOutputDirectory(outDir); err != nil {
				return err
			}

			privPath := filepath.Join(outDir, config.PrivateKeyFileName)
			overwrite := force
			if _, err := os.Stat(privPath); err == nil && !force {
				if !confirm(cmd, fmt.Sprintf("Private key %s already exists. Licenses signed with it stop verifying once the application ships the new public key. Overwrite?", privPath)) {
					return fmt.Errorf("%s: %w", privPath, security.ErrKeyExists)
				}
				overwrite = true
			}

			kp, err := security.GenerateKeyPair(bits)
			if err != nil {
				return err
			}

			privPath, pubPath, err := security.WriteKeyPair(outDir, kp, passphrase, overwrite)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Vendor key pair generated:")
			fmt.Fprintln(out, "_________________________________________________________________________")
			fmt.Fprintf(out, "Private key:                    %s\n", privPath)
			fmt.Fprintf(out, "Public key:                     %s\n", pubPath)
			fmt.Fprintf(out, "Key size (bits):                %d\n", kp.PrivateKey.N.BitLen())
			fmt.Fprintf(out, "Public key fingerprint:         %s\n", security.PublicKeyFingerprint(kp.PublicKey))
			fmt.Fprintf(out, "Passphrase protected:           %t\n", len(passphrase) > 0)
			fmt.Fprintln(out, "_________________________________________________________________________")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&outDir, "out-dir", "o", ".", "Directory for the key files")
	flags.BoolVar(&force, "force", false, "Overwrite an existing private key without asking")
	flags.StringVar(&passphraseFile, "passphrase-file", "", "File holding a passphrase that encrypts the private key")
	flags.IntVar(&bits, "bits", config.DefaultRSAKeyBits, "RSA modulus size")

	return cmd
}

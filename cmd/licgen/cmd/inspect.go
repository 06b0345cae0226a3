package cmd

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"licensor/internal/config"
	"licensor/internal/license"
	"licensor/internal/security"
	"licensor/internal/validation"
)

// inspectReport is printed as YAML
type inspectReport struct {
	File                string   `yaml:"file"`
	Size                int      `yaml:"size"`
	FormatVersion       uint16   `yaml:"format_version"`
	EncryptionAlgorithm string   `yaml:"encryption_algorithm"`
	SignatureAlgorithm  string   `yaml:"signature_algorithm"`
	VerifyingKey        string   `yaml:"verifying_key"`
	SignatureValid      bool     `yaml:"signature_valid"`
	Payload             *payload `yaml:"payload,omitempty"`
}

type payload struct {
	LicenseID string   `yaml:"license_id"`
	MachineID string   `yaml:"machine_id"`
	Customer  string   `yaml:"customer,omitempty"`
	IssuedAt  string   `yaml:"issued_at"`
	ExpiresAt string   `yaml:"expires_at"`
	Features  []string `yaml:"features,flow"`
}

func newInspectCommand() *cobra.Command {
	var (
		machineID     string
		publicKeyPath string
	)

	cmd := &cobra.Command{
		Use:   "inspect <license-file>",
		Short: "Decode and verify a license file",
		Long: `Decode a license file, verify its signature and, when the machine id is
given, decrypt and print the payload. Without --public-key the key built
into the application is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := validation.NewFileValidator(slog.Default()).ReadLicenseFile(args[0])
			if err != nil {
				return err
			}

			var pub *rsa.PublicKey
			if publicKeyPath != "" {
				pub, err = security.LoadPublicKey(publicKeyPath)
			} else {
				pub, err = security.ParsePublicKeyPEM(config.VendorPublicKeyPEM())
			}
			if err != nil {
				return err
			}

			sl, err := license.Decode(data)
			if err != nil {
				return err
			}

			report := inspectReport{
				File:                args[0],
				Size:                len(data),
				FormatVersion:       sl.FormatVersion,
				EncryptionAlgorithm: sl.EncryptionAlgorithm.String(),
				SignatureAlgorithm:  sl.SignatureAlgorithm.String(),
				VerifyingKey:        security.PublicKeyFingerprint(pub),
			}
			verifyErr := sl.Verify(pub)
			report.SignatureValid = verifyErr == nil

			var openErr error
			if verifyErr == nil && machineID != "" {
				var p *license.Payload
				p, openErr = sl.Open(machineID, config.PayloadSecretBytes())
				if openErr == nil {
					report.Payload = &payload{
						LicenseID: p.LicenseID,
						MachineID: p.MachineID,
						Customer:  p.CustomerRef,
						IssuedAt:  p.IssuedAt.Format(time.RFC3339),
						ExpiresAt: "never",
						Features:  p.Features,
					}
					if p.ExpiresAt != nil {
						report.Payload.ExpiresAt = p.ExpiresAt.Format(time.RFC3339)
					}
				}
			}

			out, err := yaml.Marshal(report)
			if err != nil {
				return fmt.Errorf("failed to render report: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(out); err != nil {
				return err
			}

			if verifyErr != nil {
				return verifyErr
			}
			return openErr
		},
	}

	cmd.Flags().StringVarP(&machineID, "machine-id", "m", "", "Machine id the license was issued for")
	cmd.Flags().StringVar(&publicKeyPath, "public-key", "", "Verify with this public key instead of the built-in one")

	return cmd
}

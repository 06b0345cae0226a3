package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"licensor/internal/config"
	"licensor/internal/license"
	"licensor/internal/security"
	"licensor/internal/validation"
)

// Terms describes a license to issue. It can be read from a YAML file;
// flags given on the command line win over the file.
type Terms struct {
	MachineID string   `yaml:"machine_id"`
	Expires   string   `yaml:"expires"`
	Features  []string `yaml:"features"`
	Customer  string   `yaml:"customer"`
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// loadTerms reads a YAML terms file
func loadTerms(path string) (Terms, error) {
	var t Terms
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read terms file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &t); err != nil {
		return t, fmt.Errorf("failed to parse terms file: %w", err)
	}
	return t, nil
}

// parseExpiry accepts YYYY-MM-DD (end of that day, UTC), RFC 3339, or
// "never" for a perpetual license.
func parseExpiry(value string, now time.Time) (*time.Time, error) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "":
		return nil, errors.New("expiry is required; use a date or \"never\"")
	case "never":
		return nil, nil
	}

	var exp time.Time
	if d, err := time.Parse("2006-01-02", value); err == nil {
		exp = d.Add(24*time.Hour - time.Second)
	} else if ts, err := time.Parse(time.RFC3339, value); err == nil {
		exp = ts.UTC()
	} else {
		return nil, fmt.Errorf("expiry %q must be YYYY-MM-DD, RFC 3339 or \"never\"", value)
	}

	if !exp.After(now) {
		return nil, fmt.Errorf("expiry %s is in the past", exp.Format(time.RFC3339))
	}
	return &exp, nil
}

func newIssueLicenseCommand() *cobra.Command {
	var (
		flagTerms      Terms
		features       string
		termsFile      string
		keyPath        string
		passphraseFile string
		outPath        string
		armor          bool
		yes            bool
	)

	cmd := &cobra.Command{
		Use:     "issue-license",
		Aliases: []string{"issue", "generate-license"},
		Short:   "Issue a license file for a customer machine",
		Example: `  licgen issue-license --machine-id 3f9c... --expires 2027-12-31 --features reports,payroll --customer CUST-042
  licgen issue-license --terms terms.yaml --armor --out customer.lic`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var terms Terms
			if termsFile != "" {
				t, err := loadTerms(termsFile)
				if err != nil {
					return err
				}
				terms = t
			}

			flags := cmd.Flags()
			if flags.Changed("machine-id") {
				terms.MachineID = flagTerms.MachineID
			}
			if flags.Changed("expires") {
				terms.Expires = flagTerms.Expires
			}
			if flags.Changed("customer") {
				terms.Customer = flagTerms.Customer
			}
			if flags.Changed("features") {
				terms.Features = strings.Split(features, ",")
			}

			terms.MachineID = strings.TrimSpace(terms.MachineID)
			if terms.MachineID == "" {
				return errors.New("machine id is required (--machine-id or machine_id in the terms file)")
			}

			now := time.Now().UTC()
			expiresAt, err := parseExpiry(terms.Expires, now)
			if err != nil {
				return err
			}

			payload := license.NewPayload(terms.MachineID, now, expiresAt, terms.Features, terms.Customer)
			if err := payload.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			expiryText := "Never (perpetual)"
			if payload.ExpiresAt != nil {
				expiryText = payload.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintln(out, "Confirm the license information:")
			fmt.Fprintln(out, "_________________________________________________________________________")
			fmt.Fprintf(out, "Customer:                       %s\n", payload.CustomerRef)
			fmt.Fprintf(out, "Machine ID:                     %s\n", payload.MachineID)
			fmt.Fprintf(out, "Expires:                        %s\n", expiryText)
			fmt.Fprintf(out, "Features:                       %s\n", strings.Join(payload.Features, ", "))
			fmt.Fprintf(out, "License ID (auto-generated):    %s\n", payload.LicenseID)
			fmt.Fprintln(out, "_________________________________________________________________________")
			if !yes && !confirm(cmd, "Is the license information correct?") {
				return errors.New("aborted")
			}

			passphrase, err := readPassphrase(passphraseFile)
			if err != nil {
				return err
			}
			kp, err := security.LoadPrivateKey(keyPath, passphrase)
			if err != nil {
				return err
			}

			secret := config.PayloadSecretBytes()
			data, err := license.Encode(payload, kp, secret)
			if err != nil {
				return err
			}
			if err := selfCheck(data, kp, payload, secret); err != nil {
				return err
			}
			if armor {
				data = license.Armor(data)
			}

			if outPath == "" {
				name := payload.CustomerRef
				if name == "" {
					name = payload.MachineID
					if len(name) > 12 {
						name = name[:12]
					}
				}
				outPath = "license-" + strings.Trim(unsafeFileChars.ReplaceAllString(strings.ToLower(name), "-"), "-") + ".lic"
			}
			if err := validation.NewFileValidator(slog.Default()).ValidateOutputDirectory(filepath.Dir(outPath)); err != nil {
				return err
			}
			if err := os.WriteFile(outPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write license file: %w", err)
			}

			fmt.Fprintf(out, "License written to %s (%d bytes)\n", outPath, len(data))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&flagTerms.MachineID, "machine-id", "m", "", "Customer machine id (from licensectl machine-id)")
	flags.StringVarP(&flagTerms.Expires, "expires", "e", "", "Expiry as YYYY-MM-DD (end of day UTC), RFC 3339, or \"never\"")
	flags.StringVarP(&features, "features", "f", "", "Comma separated feature list")
	flags.StringVarP(&flagTerms.Customer, "customer", "c", "", "Customer reference")
	flags.StringVarP(&termsFile, "terms", "t", "", "YAML file with machine_id, expires, features and customer")
	flags.StringVarP(&keyPath, "key", "k", config.PrivateKeyFileName, "Vendor private key")
	flags.StringVar(&passphraseFile, "passphrase-file", "", "Passphrase file for an encrypted private key")
	flags.StringVarP(&outPath, "out", "o", "", "Output file (default license-<customer>.lic)")
	flags.BoolVar(&armor, "armor", false, "Write an ASCII-armored license that survives e-mail")
	flags.BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

// selfCheck decodes the fresh license the way the application will
func selfCheck(data []byte, kp *security.KeyPair, want *license.Payload, secret []byte) error {
	sl, err := license.Decode(data)
	if err != nil {
		return fmt.Errorf("self-check decode: %w", err)
	}
	if err := sl.Verify(kp.PublicKey); err != nil {
		return fmt.Errorf("self-check verify: %w", err)
	}
	got, err := sl.Open(want.MachineID, secret)
	if err != nil {
		return fmt.Errorf("self-check open: %w", err)
	}
	if got.LicenseID != want.LicenseID {
		return errors.New("self-check: license id changed during encoding")
	}
	return nil
}

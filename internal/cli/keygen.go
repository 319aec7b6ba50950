package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/karasz/notary"
)

// KeygenResult is the output of keygen.
type KeygenResult struct {
	Public string `json:"public"`
	Secret string `json:"secret,omitempty"`
	File   string `json:"file,omitempty"`
}

func (r KeygenResult) String() string {
	if r.File != "" {
		return fmt.Sprintf("public: %s\nsecret written to %s", r.Public, r.File)
	}
	return fmt.Sprintf("public: %s\nsecret: %s", r.Public, r.Secret)
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a notary keypair",
		Long: `Generate an Ed25519 keypair. The secret is printed in base58, or written to
--out as a JSON byte array readable by NOTARY_SECRET.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := notary.GenerateKeypair()
			if err != nil {
				return WrapExitError(ExitFailure, "generate keypair", err)
			}
			res := KeygenResult{Public: kp.Public().String()}
			if out == "" {
				res.Secret = base58.Encode(kp.SecretBytes())
			} else {
				if err := writeKeyFile(out, kp.SecretBytes()); err != nil {
					return WrapExitError(ExitFailure, "write key file", err)
				}
				res.File = out
			}
			return rootOpts.formatter(cmd).Success(res)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the secret key to this file")
	return cmd
}

func writeKeyFile(path string, secret []byte) error {
	ints := make([]int, len(secret))
	for i, b := range secret {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

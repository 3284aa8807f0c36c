package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/loader"
	"github.com/jbweber/yolocloud/internal/output"
)

var (
	tokenValue       string
	tokenLifetime    time.Duration
	tokenExpires     time.Duration
	tokenRegenerates bool
	tokenHypervisor  string
	tokenFile        string
)

var createTokenCmd = &cobra.Command{
	Use:   "create-token",
	Short: "Create an admission token",
	Long: `Create a token that can be redeemed with create-vm.

Tokens are single use unless --regenerates is given. VMs created with the
token expire after --lifetime (0 means never), and --hypervisor pins them
to one host instead of the configured host selection.

Examples:
  yolocloud create-token
  yolocloud create-token --lifetime 24h --expires 168h
  yolocloud create-token --regenerates --hypervisor qemu+tcp://hv1/system -o json
  yolocloud create-token -f tokens.yaml

A token file holds one token per YAML document:

  value: 5b0c3f9e-8a1d-4c2b-9e7f-1a2b3c4d5e6f   # generated when omitted
  vmLifetime: 3600
  regenerates: true
  hypervisorURL: qemu+tcp://hv1.example.com/system`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		tokens, err := tokensFromFlags()
		if err != nil {
			return err
		}

		return withApp(func(a *app) error {
			for _, tok := range tokens {
				created, err := a.service.CreateToken(cmd.Context(), *tok)
				if err != nil {
					return err
				}
				err = printResult(func(f output.Formatter) (string, error) {
					return f.FormatToken(created)
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	},
}

// tokensFromFlags returns the tokens in --from-file, or the single token
// described by the other flags.
func tokensFromFlags() ([]*v1alpha1.Token, error) {
	if tokenFile != "" {
		return loader.LoadTokensFromFile(tokenFile)
	}

	tok := &v1alpha1.Token{
		Value:         tokenValue,
		VMLifetime:    int64(tokenLifetime / time.Second),
		Regenerates:   tokenRegenerates,
		HypervisorURL: tokenHypervisor,
	}
	if tokenExpires > 0 {
		expiresAt := time.Now().Add(tokenExpires)
		tok.ExpiresAt = &expiresAt
	}
	return []*v1alpha1.Token{tok}, nil
}

func init() {
	createTokenCmd.Flags().StringVar(&tokenValue, "value", "", "token value (generated when empty)")
	createTokenCmd.Flags().DurationVar(&tokenLifetime, "lifetime", 0, "lifetime of VMs created with the token (0 means never expire)")
	createTokenCmd.Flags().DurationVar(&tokenExpires, "expires", 0, "time until the token can no longer be redeemed (0 means never)")
	createTokenCmd.Flags().BoolVar(&tokenRegenerates, "regenerates", false, "keep the token usable after redemption")
	createTokenCmd.Flags().StringVar(&tokenHypervisor, "hypervisor", "", "place VMs created with the token on this hypervisor URL")
	createTokenCmd.Flags().StringVarP(&tokenFile, "from-file", "f", "", "create the tokens described in a YAML file")
	addOutputFlags(createTokenCmd)
}

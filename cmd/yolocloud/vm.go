package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jbweber/yolocloud/internal/config"
	"github.com/jbweber/yolocloud/internal/output"
)

var (
	outputFormat string
	noHeaders    bool
	createToken  string
)

const outputFormatsHelp = `
Output formats:
  -o table  Human-readable table (default)
  -o yaml   YAML document
  -o json   JSON document`

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, yaml, json)")
	cmd.Flags().BoolVar(&noHeaders, "no-headers", false, "omit table headers")
}

// printResult prints what format renders with the selected formatter.
func printResult(format func(f output.Formatter) (string, error)) error {
	formatter, err := output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
	if err != nil {
		return err
	}

	result, err := format(formatter)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	fmt.Print(result)
	return nil
}

func parseVMID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid vm id %q: %w", s, err)
	}
	return id, nil
}

var createVMCmd = &cobra.Command{
	Use:   "create-vm [template]",
	Short: "Create a VM by redeeming a token",
	Long: `Create a virtual machine record and queue its provisioning.

The token is redeemed in the same transaction that stores the VM. When
require_token is disabled the token may be omitted. The template defaults
to "base".

With "broker: local" the command waits for provisioning to finish.

Examples:
  yolocloud create-vm --token 3f0c...
  yolocloud create-vm base --token 3f0c...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var template string
		if len(args) == 1 {
			template = args[0]
		}

		return withApp(func(a *app) error {
			id, err := a.service.CreateVM(cmd.Context(), createToken, template)
			if id != uuid.Nil {
				fmt.Println(id.String())
			}
			if err != nil {
				return fmt.Errorf("failed to create VM: %w", err)
			}
			if cfg.Broker == config.BrokerLocal {
				fmt.Println("Provisioning...")
			}
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List VM records",
	Long:  `List every VM record in the database.` + outputFormatsHelp,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		return withApp(func(a *app) error {
			vms, err := a.service.ListVMs(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list VMs: %w", err)
			}
			return printResult(func(f output.Formatter) (string, error) {
				return f.FormatVMList(vms)
			})
		})
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <vm-id>",
	Short: "Describe the live domain of a VM",
	Long: `Describe the hypervisor domain backing a provisioned VM: state, memory,
vCPUs, features, graphics URI and inserted media.` + outputFormatsHelp,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}
		id, err := parseVMID(args[0])
		if err != nil {
			return err
		}

		return withApp(func(a *app) error {
			snap, err := a.service.DescribeDomain(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to describe VM: %w", err)
			}
			return printResult(func(f output.Formatter) (string, error) {
				return f.FormatSnapshot(snap)
			})
		})
	},
}

func init() {
	createVMCmd.Flags().StringVarP(&createToken, "token", "t", "", "admission token to redeem")
	addOutputFlags(listCmd)
	addOutputFlags(describeCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/yolocloud/api/v1alpha1"
	"github.com/jbweber/yolocloud/internal/libvirt"
)

var testConnCmd = &cobra.Command{
	Use:   "test-conn [url]",
	Short: "Test a hypervisor connection",
	Long: `Test connectivity to a libvirt daemon and display version information.

The URL defaults to the first configured host, or qemu:///system.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := v1alpha1.DefaultHypervisorURL
		if len(cfg.Hosts) > 0 {
			url = cfg.Hosts[0]
		}
		if len(args) == 1 {
			url = args[0]
		}

		target, err := libvirt.ParseURI(url)
		if err != nil {
			return err
		}

		fmt.Printf("Testing libvirt connection to %s...\n", url)

		client, err := libvirt.ConnectWithContext(cmd.Context(), target, cfg.Timeouts.Connect)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		fmt.Printf("✓ Connected to libvirt daemon at %s\n", target.Address())

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		version, err := client.Version()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Libvirt version: %s\n", version)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}

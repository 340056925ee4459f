package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corvid-agent/corvid/pkg/proc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show resolved configuration and agent CLI availability",
	Long:  `Show the resolved configuration and whether the configured agent CLI binary can be found.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	available := proc.IsCommandAvailable(cfg.CLIPath)

	fmt.Printf("CLI path: %s\n", cfg.CLIPath)
	if available {
		fmt.Println("CLI available: yes")
	} else {
		fmt.Println("CLI available: no")
	}
	fmt.Printf("Mode: %s\n", cfg.Mode)
	fmt.Printf("Default timeout: %s\n", cfg.DefaultTimeout)
	fmt.Printf("Backpressure: %s (capacity %d)\n", cfg.Backpressure.Strategy, cfg.Backpressure.Capacity)
	if cfg.Transcript.Enabled {
		fmt.Printf("Transcript: %s\n", cfg.Transcript.Path)
	} else {
		fmt.Println("Transcript: disabled")
	}
	if cfg.Gateway.Enabled {
		fmt.Printf("Gateway: %s\n", cfg.Gateway.Addr)
	} else {
		fmt.Println("Gateway: disabled")
	}
	return nil
}

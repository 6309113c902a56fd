// Command marquee-player is a headless display device: it connects to
// a coordinator, registers, reports health, and renders whatever layout
// it is given to its log. Used for fleet testing and as a reference
// client implementation.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var opts playerOptions

	rootCmd := &cobra.Command{
		Use:   "marquee-player",
		Short: "Headless display device for a marquee coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.serverURL == "" {
				return fmt.Errorf("--server is required")
			}
			if opts.deviceID == "" {
				host, _ := os.Hostname()
				opts.deviceID = host
			}
			if opts.name == "" {
				opts.name = opts.deviceID
			}
			opts.os = runtime.GOOS
			opts.arch = runtime.GOARCH
			return runPlayer(cmd.Context(), opts)
		},
	}

	rootCmd.Flags().StringVarP(&opts.serverURL, "server", "s", "", "Coordinator WebSocket URL, e.g. ws://host:8090/ws")
	rootCmd.Flags().StringVar(&opts.deviceID, "id", "", "Device identity (default: hostname)")
	rootCmd.Flags().StringVarP(&opts.name, "name", "n", "", "Human-readable device name")
	rootCmd.Flags().IntVar(&opts.screenWidth, "width", 1920, "Screen width in pixels")
	rootCmd.Flags().IntVar(&opts.screenHeight, "height", 1080, "Screen height in pixels")
	rootCmd.Flags().DurationVar(&opts.heartbeat, "heartbeat", 15*time.Second, "Heartbeat interval")
	rootCmd.Flags().DurationVar(&opts.statusEvery, "status-interval", 60*time.Second, "Status report interval")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔╦╗┌─┐┬─┐┌─┐ ┬ ┬┌─┐┌─┐
  ║║║├─┤├┬┘│─┼┐│ │├┤ ├┤
  ╩ ╩┴ ┴┴└─└─┘└└─┘└─┘└─┘
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "marquee",
		Short: "Display fleet coordinator",
		Long: `Marquee coordinates a fleet of networked display devices.

Devices connect over WebSocket, register their identity and
capabilities, and receive layouts, data refreshes, and remote
commands. Operators drive the fleet through the admin HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

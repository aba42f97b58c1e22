// worksetd is the event-pipeline daemon: it relays committed application
// events from the outbox onto the bus and distributes delivered events to the
// registered consumers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "worksetd <command>",
	Short: "Workset event pipeline daemon",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the worksetd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

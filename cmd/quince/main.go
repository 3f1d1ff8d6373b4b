// Command quince is a minimal QUIC client and server used for interop
// testing against the transport and quic packages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/goburrow/quic"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quince",
		Short:         "A minimal QUIC client and server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newClientCmd())
	root.AddCommand(newServerCmd())
	root.AddCommand(newQlogCmd())
	return root
}

// newConfig returns the baseline quic.Config shared by the client and
// server subcommands; each flips the fields it needs from its own flags.
func newConfig() *quic.Config {
	return quic.NewConfig()
}

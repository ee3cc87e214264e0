// Command phpedge is the process entry point: it wires config, logging,
// the three backends, the WAF, the admin socket, and the request pipeline
// behind a spf13/cobra command surface, the way the teacher's own tester
// binaries (testers/tools/*/*.go) structure their CLIs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "phpedge",
		Short: "An HTTP(S) front-end for embedded, FastCGI, and static PHP serving",
	}

	root.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newWafCmd(),
		newBenchCmd(),
		newAdminCmd(),
		newTuiCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

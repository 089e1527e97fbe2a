// Command keyward distributes encrypted project keys and gates secret
// mutations behind reviewer approval.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/keyward/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

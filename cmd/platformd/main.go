// Command platformd serves the experiment orchestration API: k6 traffic jobs
// and pumba network-delay injections launched as Docker containers.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

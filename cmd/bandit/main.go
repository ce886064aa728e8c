// bandit fits and serves bootstrap Thompson sampling bandits from CSV logs.
package main

import (
	"os"

	"github.com/n0madic/go-bootstrap-bandits/cmd/bandit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command ragchat is a terminal client for a retrieval-augmented chat
// backend. It streams answers as they are generated, keeps a local history
// of finished turns, and can run a development backend for local use.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/ragchat-go/cmd/ragchat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

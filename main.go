// ./main.go
package main

import (
	"github.com/parityscan/parity-cli/cmd"
)

// main is the entry point for the parity CLI. All command-line parsing,
// configuration and execution happens in the cmd package.
func main() {
	cmd.Execute()
}

package main

import (
	"github.com/parityscan/parity-cli/cmd"
)

func main() {
	cmd.Execute()
}

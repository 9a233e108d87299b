// -- cmd/version.go --
package cmd

// Version is injected at build time via
// -ldflags "-X github.com/parityscan/parity-cli/cmd.Version=v1.2.3".
var Version = "dev"

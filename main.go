// Registry API server and command-line interface.
//
// The github.com/permitforge/nft-registry package is the entrypoint to the NFT permit registry
// tooling. This package defines the structure of the registry API and also defines the
// command-line interface that can be used to sign permits and configure and start the API server.

package main

import (
	"fmt"
	"os"
)

func main() {
	command := CreateRootCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

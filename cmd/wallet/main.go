// Command wallet generates keypairs and submits signed transactions to
// a running node over the gossip wire protocol.
package main

import "github.com/meridianlabs/ledgerchain/cmd/wallet/cmd"

func main() {
	cmd.Execute()
}

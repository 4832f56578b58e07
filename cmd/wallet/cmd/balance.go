package cmd

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance as known by the queried node",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func balanceRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	accountID := ledger.PublicKeyToAccountID(privateKey.PublicKey)

	state, err := queryState(nodeAddr)
	if err != nil {
		log.Fatal(err)
	}

	entry, exists := state.Accounts[string(accountID)]
	if !exists {
		fmt.Println("account:", accountID, "balance: 0 (unknown to peer)")
		return
	}

	fmt.Println("account:", accountID, "balance:", entry.Balance, "at height", state.BlockHeight)
}

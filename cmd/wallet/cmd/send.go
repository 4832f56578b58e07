package cmd

import (
	"log"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
)

var (
	to       string
	amount   uint64
	gasPrice uint64
)

// timestampLayout matches the wire/storage format every transaction
// timestamp is encoded in.
const timestampLayout = "2006-01-02 15:04:05"

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and submit a transaction",
	Run:   sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Recipient account id.")
	sendCmd.Flags().Uint64VarP(&amount, "amount", "v", 0, "Amount to send.")
	sendCmd.Flags().Uint64VarP(&gasPrice, "gas-price", "g", 0, "Gas price to offer.")
}

func sendRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	from := ledger.PublicKeyToAccountID(privateKey.PublicKey)

	state, err := queryState(nodeAddr)
	if err != nil {
		log.Fatal(err)
	}
	nonce := expectedNonce(state.Accounts, string(from))

	tx, err := ledger.NewTx(from, ledger.AccountID(to), amount, gasPrice, nonce, time.Now().UTC().Format(timestampLayout))
	if err != nil {
		log.Fatal(err)
	}

	signedTx, err := tx.Sign(privateKey)
	if err != nil {
		log.Fatal(err)
	}

	if err := submitTx(nodeAddr, signedTx); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/uhyunpark/roundmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/roundmarket/pkg/crypto"
)

func fail(format string, args ...any) {
	fmt.Printf("Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	var (
		keyHex    = flag.String("key", os.Getenv("SIGNER_KEY"), "hex private key (generated when empty)")
		kind      = flag.String("kind", "buy", "action kind: buy, fill, place, cancel, register, advance, approve, withdraw, pause, unpause")
		amount    = flag.String("amount", "", "token amount in base units")
		cost      = flag.String("cost", "", "order cost in native units")
		value     = flag.String("value", "", "attached native value")
		orderID   = flag.String("order", "", "order id for fill and cancel")
		referrer  = flag.String("referrer", "", "referrer address for register")
		recipient = flag.String("recipient", "", "recipient address for withdraw")
		nonce     = flag.Uint64("nonce", 1, "account nonce, must exceed the last used one")
		deadline  = flag.Uint64("deadline", 0, "unix deadline, 0 for none")
		chainID   = flag.Int64("chain-id", 1337, "EIP-712 domain chain id")
		apiURL    = flag.String("api", "http://localhost:8080", "node API base URL for the printed hint")
	)
	flag.Parse()

	// Step 1: Load or generate key
	var (
		signer *crypto.Signer
		err    error
	)
	if *keyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	if *keyHex == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println()

	// Step 2: Build action
	payload := &transaction.ActionPayload{
		Kind:      *kind,
		Account:   signer.Address().Hex(),
		Amount:    *amount,
		Cost:      *cost,
		Value:     *value,
		OrderID:   *orderID,
		Referrer:  *referrer,
		Recipient: *recipient,
		Nonce:     fmt.Sprint(*nonce),
	}
	if *deadline > 0 {
		payload.Deadline = fmt.Sprint(*deadline)
	}
	action, err := payload.Decode()
	if err != nil {
		fail("%v", err)
	}

	fmt.Println("Action Details:")
	fmt.Printf("  Kind: %s\n", action.Kind)
	fmt.Printf("  Account: %s\n", action.Account.Hex())
	fmt.Printf("  Amount: %s\n", action.Amount)
	fmt.Printf("  Cost: %s\n", action.Cost)
	fmt.Printf("  Value: %s\n", action.Value)
	fmt.Printf("  Nonce: %d\n\n", action.Nonce)

	// Step 3: Sign with EIP-712
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(*chainID)
	signedTx, err := transaction.Sign(crypto.NewEIP712Signer(domain), signer, action)
	if err != nil {
		fail("signing: %v", err)
	}

	jsonBytes, err := json.MarshalIndent(signedTx, "", "  ")
	if err != nil {
		fail("marshaling: %v", err)
	}
	fmt.Println("Signed Transaction (JSON):")
	fmt.Println(string(jsonBytes))
	fmt.Println()

	// Step 4: Verify locally
	verified, err := transaction.NewVerifier(domain, nil, nil).Verify(signedTx)
	if err != nil {
		fail("verification failed: %v", err)
	}
	fmt.Printf("Signature verified, tx hash %s\n\n", verified.Hash.Hex())

	fmt.Println("To submit this transaction, send:")
	fmt.Printf("POST %s/api/v1/tx\n", *apiURL)
	fmt.Println("Content-Type: application/json")
	fmt.Println()
	fmt.Println(string(jsonBytes))
}

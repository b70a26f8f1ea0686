// Command bid-encryptor seals a bidder's quantity and price to an auction's input key and
// prints the JSON body for POST /auction/bids.
//
// The input key is read from a PEM file, or fetched from a running auctiond together with the
// auction id.
//
// # Usage
//
//	bid-encryptor --url http://localhost:8080 --bidder alice --quantity 80 --price 3
//	bid-encryptor --key input_key.pem --auction spring-sale --bidder alice --quantity 80 --price 3
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/fhe"
)

func main() {
	var (
		baseURL   = flag.String("url", "", "auctiond base URL to fetch the auction id and input key from")
		keyPath   = flag.String("key", "", "Path to the input public key PEM (instead of --url)")
		auctionID = flag.String("auction", "", "Auction id (required with --key)")
		bidder    = flag.String("bidder", "", "Participant the bid is bound to (required)")
		quantity  = flag.Uint64("quantity", 0, "Quantity in asset base units")
		price     = flag.Uint64("price", 0, "Price in payment base units per whole asset unit")
		hashAlg   = flag.String("hash", string(fhe.HashAlgorithmSHA256), "RSA-OAEP hash: SHA-256 or SHA-1")
	)
	flag.Parse()

	if *bidder == "" || (*baseURL == "") == (*keyPath == "") {
		fmt.Fprintln(os.Stderr, "Usage: bid-encryptor (--url <auctiond> | --key <pem> --auction <id>) --bidder <name> --quantity <n> --price <n>")
		os.Exit(1)
	}

	id, keyPEM, err := resolveKey(*baseURL, *keyPath, *auctionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading input key: %v\n", err)
		os.Exit(2)
	}

	publicKey, err := fhe.ParsePublicKeyPEM(keyPEM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing input key: %v\n", err)
		os.Exit(2)
	}

	proof, err := fhe.EncryptInput([]uint64{*quantity, *price}, publicKey,
		fhe.Binding{AuctionID: id, Principal: *bidder}, fhe.HashAlgorithm(*hashAlg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encrypting bid: %v\n", err)
		os.Exit(2)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(auctionapi.PlaceBidRequest{Proof: proof}); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding request: %v\n", err)
		os.Exit(2)
	}
}

func resolveKey(baseURL, keyPath, auctionID string) (string, string, error) {
	if keyPath != "" {
		if auctionID == "" {
			return "", "", fmt.Errorf("--auction is required with --key")
		}
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to read file: %w", err)
		}
		return auctionID, string(data), nil
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/auction")
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("auctiond returned %s", resp.Status)
	}

	var view auctionapi.AuctionView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return "", "", fmt.Errorf("failed to parse auction view: %w", err)
	}
	if view.InputPublicKey == "" {
		return "", "", fmt.Errorf("auctiond did not publish an input key")
	}
	return view.ID, view.InputPublicKey, nil
}

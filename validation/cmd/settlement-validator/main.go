package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/validation"
)

func main() {
	var (
		receiptInput = flag.String("receipt", "", "Settlement receipt JSON (file path or inline JSON)")
		bidder       = flag.String("bidder", "", "Participant whose bid is checked")
		quantity     = flag.Uint64("quantity", 0, "Quantity the bidder sealed")
		price        = flag.Uint64("price", 0, "Price the bidder sealed")
		masked       = flag.Bool("masked", false, "Expect the bid to have been zeroed for insufficient funds")
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *receiptInput == "" || *bidder == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --receipt and --bidder are required\n")
		os.Exit(1)
	}

	receiptJSON, err := readJSONInput(*receiptInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading receipt: %v\n", err)
		os.Exit(2)
	}

	var receipt auctionapi.SettlementReceipt
	if err := json.Unmarshal(receiptJSON, &receipt); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing receipt: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateSettlement(&validation.SettlementValidationInput{
		Receipt:  &receipt,
		Bidder:   *bidder,
		Quantity: *quantity,
		Price:    *price,
		Masked:   *masked,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(&receipt, result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Settlement Receipt Validator")
	fmt.Println()
	fmt.Println("Recomputes the uniform-price clearing from a published settlement receipt and checks")
	fmt.Println("that your own sealed bid was revealed and settled as you submitted it.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  settlement-validator --receipt <json> --bidder <name> --quantity <n> --price <n> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --receipt <json>                  Receipt from GET /auction/receipt")
	fmt.Println("  --bidder <name>                   Your participant id")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --quantity <n>                    Quantity you sealed (base units)")
	fmt.Println("  --price <n>                       Price you sealed (base units per whole asset unit)")
	fmt.Println("  --masked                          Your bid exceeded your locked funds and should be zero")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  curl -s localhost:8080/auction/receipt > receipt.json")
	fmt.Println("  settlement-validator --receipt receipt.json --bidder alice --quantity 80 --price 3")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readJSONInput(input string) ([]byte, error) {
	// Try reading as file first
	if data, err := os.ReadFile(input); err == nil {
		return data, nil
	}
	// Treat as inline JSON
	return []byte(input), nil
}

func outputText(receipt *auctionapi.SettlementReceipt, result *validation.SettlementValidationResult) {
	fmt.Println("Settlement Receipt Validator")
	fmt.Println("============================")
	fmt.Println()
	fmt.Printf("Auction:        %s\n", receipt.AuctionID)
	fmt.Printf("Supply:         %d\n", receipt.Supply)
	fmt.Printf("Clearing price: %d\n", receipt.ClearingPrice)
	fmt.Printf("Your allocation: %d\n", result.Allocation.Quantity)

	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Bid Included:     %v\n", result.BidIncluded)
	fmt.Printf("  Clearing Valid:   %v\n", result.ClearingValid)
	fmt.Printf("  Hash Valid:       %v\n", result.HashValid)
	fmt.Printf("  Proceeds Valid:   %v\n", result.ProceedsValid)

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("============================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
		fmt.Println("Exit Code: 0")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
		fmt.Println("Exit Code: 1")
	}
}

func outputJSON(result *validation.SettlementValidationResult) {
	output := map[string]any{
		"valid":          result.IsValid(),
		"bid_included":   result.BidIncluded,
		"clearing_valid": result.ClearingValid,
		"hash_valid":     result.HashValid,
		"proceeds_valid": result.ProceedsValid,
		"allocation":     result.Allocation,
		"details":        result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}

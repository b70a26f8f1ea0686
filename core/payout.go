package core

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// maxAssetDecimals keeps 10^decimals representable as a uint64 divisor.
const maxAssetDecimals uint8 = 19

// PriceScale returns 10^assetDecimals, the divisor that converts quantity × price (asset base
// units × payment base units per whole asset) into payment base units.
func PriceScale(assetDecimals uint8) (uint64, error) {
	if assetDecimals > maxAssetDecimals {
		return 0, fmt.Errorf("asset decimals %d exceed maximum %d", assetDecimals, maxAssetDecimals)
	}
	scale := uint64(1)
	for i := uint8(0); i < assetDecimals; i++ {
		scale *= 10
	}
	return scale, nil
}

// Payable computes floor(quantity × price / 10^assetDecimals) in payment base units.
// Uses decimal arithmetic so the intermediate product cannot overflow.
func Payable(quantity, price uint64, assetDecimals uint8) (uint64, error) {
	if assetDecimals > maxAssetDecimals {
		return 0, fmt.Errorf("asset decimals %d exceed maximum %d", assetDecimals, maxAssetDecimals)
	}

	quantityDecimal := decimalFromUint64(quantity)
	priceDecimal := decimalFromUint64(price)

	payableDecimal := quantityDecimal.Mul(priceDecimal).Shift(-int32(assetDecimals)).Truncate(0)

	payable := payableDecimal.BigInt()
	if !payable.IsUint64() {
		return 0, fmt.Errorf("payable %s overflows uint64", payableDecimal.String())
	}
	return payable.Uint64(), nil
}

// TotalPayable sums the payable amount of every winning allocation.
func TotalPayable(allocations []Allocation, assetDecimals uint8) (uint64, error) {
	total := decimal.Zero
	for _, a := range allocations {
		if a.Quantity == 0 {
			continue
		}
		payable, err := Payable(a.Quantity, a.Price, assetDecimals)
		if err != nil {
			return 0, fmt.Errorf("payable for %s: %w", a.Bidder, err)
		}
		total = total.Add(decimalFromUint64(payable))
	}

	totalInt := total.BigInt()
	if !totalInt.IsUint64() {
		return 0, fmt.Errorf("total payable %s overflows uint64", total.String())
	}
	return totalInt.Uint64(), nil
}

func decimalFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

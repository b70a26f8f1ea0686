package core

import (
	"math"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestPayable(t *testing.T) {
	tests := []struct {
		name          string
		quantity      uint64
		price         uint64
		assetDecimals uint8
		expected      uint64
	}{
		{name: "No decimals", quantity: 80, price: 3, assetDecimals: 0, expected: 240},
		{name: "Whole units with 18 decimals", quantity: 2_000_000_000_000_000_000, price: 5, assetDecimals: 18, expected: 10},
		{name: "Fractional result truncates", quantity: 15, price: 1, assetDecimals: 1, expected: 1},
		{name: "Zero quantity", quantity: 0, price: 100, assetDecimals: 6, expected: 0},
		{name: "Product exceeds uint64 before rescale", quantity: math.MaxUint64, price: 10, assetDecimals: 1, expected: math.MaxUint64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payable, err := Payable(tt.quantity, tt.price, tt.assetDecimals)
			assert.NoError(t, err)
			check.Equal(t, tt.expected, payable)
		})
	}
}

func TestPayable_Overflow(t *testing.T) {
	_, err := Payable(math.MaxUint64, 2, 0)
	check.Error(t, err)

	_, err = Payable(1, 1, 20)
	check.Error(t, err)
}

func TestPriceScale(t *testing.T) {
	scale, err := PriceScale(0)
	assert.NoError(t, err)
	check.Equal(t, uint64(1), scale)

	scale, err = PriceScale(6)
	assert.NoError(t, err)
	check.Equal(t, uint64(1_000_000), scale)

	scale, err = PriceScale(19)
	assert.NoError(t, err)
	check.Equal(t, uint64(10_000_000_000_000_000_000), scale)

	_, err = PriceScale(20)
	check.Error(t, err)
}

func TestTotalPayable(t *testing.T) {
	allocations := []Allocation{
		{Bidder: "D", Quantity: 80, Price: 1},
		{Bidder: "C", Quantity: 20, Price: 1},
		{Bidder: "A", Quantity: 0, Price: 0},
	}

	total, err := TotalPayable(allocations, 0)
	assert.NoError(t, err)
	check.Equal(t, uint64(100), total)
}

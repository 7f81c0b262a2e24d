package payroll_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/rates"
)

func TestAllocate_HybridSplit(t *testing.T) {
	// GIVEN: $100,000 at 70% fiat / 30% BTC, BTC at $50,000
	emp := employee("emp-1", "100000")
	emp.Allocation = split("70", "30", generic.AssetBTC)
	emp.WalletAddress = "bc1qexample"

	// WHEN
	res, err := payroll.Allocate(emp, table(map[string]string{"BTC": "50000"}))

	// THEN: $70,000 fiat and 0.6 BTC
	require.NoError(t, err)
	assert.True(t, res.FiatAmount.Equal(d("70000")), "fiat = %s", res.FiatAmount)
	assert.True(t, res.CryptoAmount.Equal(d("0.6")), "crypto = %s", res.CryptoAmount)
	assert.Equal(t, generic.AssetBTC, res.CryptoAsset)
	assert.Equal(t, "bc1qexample", res.WalletAddress)
}

func TestAllocate_FullFiatIgnoresRates(t *testing.T) {
	tables := []rates.Table{
		{},
		table(map[string]string{"BTC": "50000"}),
		table(map[string]string{"ETH": "1"}),
	}
	for _, alloc := range []payroll.Allocation{{}, split("100", "0", generic.AssetSOL)} {
		for _, tbl := range tables {
			emp := employee("emp-1", "85000")
			emp.Allocation = alloc

			res, err := payroll.Allocate(emp, tbl)

			require.NoError(t, err)
			assert.True(t, res.FiatAmount.Equal(d("85000")))
			assert.True(t, res.CryptoAmount.IsZero())
		}
	}
}

func TestAllocate_SplitReconstructsSalary(t *testing.T) {
	tbl := table(map[string]string{"BTC": "67321.17", "ETH": "3187.42", "USDT": "0.9998"})
	cases := []struct {
		fiat, crypto string
		asset        generic.Asset
	}{
		{"90", "10", generic.AssetBTC},
		{"50", "50", generic.AssetETH},
		{"33.3", "66.7", generic.AssetUSDT},
		{"0", "100", generic.AssetBTC},
	}
	for _, tc := range cases {
		emp := employee("emp-1", "123456.78")
		emp.Allocation = split(tc.fiat, tc.crypto, tc.asset)

		res, err := payroll.Allocate(emp, tbl)
		require.NoError(t, err)

		price, _ := tbl.Price(tc.asset.String())
		total := res.FiatAmount.Add(res.CryptoAmount.Mul(price))
		assert.True(t, total.Sub(emp.Salary).Abs().LessThan(d("0.000001")),
			"%s/%s %s: fiat + crypto×price = %s", tc.fiat, tc.crypto, tc.asset, total)
	}
}

func TestAllocate_UnknownAssetFails(t *testing.T) {
	emp := employee("emp-1", "100000")
	emp.Allocation = split("50", "50", generic.AssetETH)

	_, err := payroll.Allocate(emp, table(map[string]string{"BTC": "50000"}))

	assert.ErrorIs(t, err, generic.ErrUnknownAsset)
	var uerr *generic.UnknownAssetError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "ETH", uerr.Symbol)
}

func TestAllocate_DefaultsAssetToBTC(t *testing.T) {
	emp := employee("emp-1", "1000")
	emp.Allocation = payroll.Allocation{FiatPercent: d("50"), CryptoPercent: d("50")}

	res, err := payroll.Allocate(emp, table(map[string]string{"BTC": "500"}))

	require.NoError(t, err)
	assert.Equal(t, generic.AssetBTC, res.CryptoAsset)
	assert.True(t, res.CryptoAmount.Equal(decimal.NewFromInt(1)))
}

func TestAllocate_RejectsBadSplits(t *testing.T) {
	cases := map[string]payroll.Allocation{
		"over 100":      split("80", "30", generic.AssetBTC),
		"under 100":     split("50", "20", generic.AssetBTC),
		"negative":      split("120", "-20", generic.AssetBTC),
		"crypto only 5": {CryptoPercent: d("5")},
	}
	for name, alloc := range cases {
		t.Run(name, func(t *testing.T) {
			emp := employee("emp-1", "1000")
			emp.Allocation = alloc

			_, err := payroll.Allocate(emp, table(map[string]string{"BTC": "500"}))

			assert.ErrorIs(t, err, generic.ErrInvalidAllocation)
			assert.True(t, generic.IsClientError(err))
		})
	}
}

func TestUpdateWalletAddress(t *testing.T) {
	emp := employee("emp-1", "1000")

	updated, err := payroll.UpdateWalletAddress(emp, "  0x52908400098527886E0F7030069857D2E4169EE7 ")
	require.NoError(t, err)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", updated.WalletAddress)
	assert.Empty(t, emp.WalletAddress, "input employee is not mutated")

	for _, bad := range []string{"", "bc1 q", "addr\x00", string(make([]byte, 129))} {
		_, err := payroll.UpdateWalletAddress(emp, bad)
		assert.ErrorIs(t, err, generic.ErrInvalidWallet, "%q", bad)
	}
}

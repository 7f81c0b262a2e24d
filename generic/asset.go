package generic

import "strings"

// =============================================================================
// ASSET - Fiat currencies and crypto assets a salary can be paid in
// =============================================================================

// Asset is an upper-case symbol such as "BTC" or "EUR".
type Asset string

type AssetKind string

const (
	AssetFiat   AssetKind = "fiat"
	AssetCrypto AssetKind = "crypto"
)

const (
	AssetBTC  Asset = "BTC"
	AssetETH  Asset = "ETH"
	AssetUSDT Asset = "USDT"
	AssetUSDC Asset = "USDC"
	AssetSOL  Asset = "SOL"
)

// DefaultCryptoAsset is used when an allocation names no asset.
const DefaultCryptoAsset = AssetBTC

// ParseAsset normalizes user input ("btc", " Eth ") into a symbol.
func ParseAsset(s string) Asset { return Asset(strings.ToUpper(strings.TrimSpace(s))) }

func (a Asset) String() string { return string(a) }

// Kind reports whether the symbol is a known crypto asset; anything else is
// treated as a fiat currency code.
func (a Asset) Kind() AssetKind {
	if _, ok := cryptoProviderIDs[a]; ok {
		return AssetCrypto
	}
	return AssetFiat
}

// cryptoProviderIDs maps symbols to the ids price providers key their
// payloads by ({"bitcoin": {"usd": 65000}}).
var cryptoProviderIDs = map[Asset]string{
	AssetBTC:  "bitcoin",
	AssetETH:  "ethereum",
	AssetUSDT: "tether",
	AssetUSDC: "usd-coin",
	AssetSOL:  "solana",
}

// ProviderID returns the provider id for a crypto asset.
func (a Asset) ProviderID() (string, bool) {
	id, ok := cryptoProviderIDs[a]
	return id, ok
}

// AssetForProviderID is the reverse lookup of ProviderID.
func AssetForProviderID(id string) (Asset, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for a, pid := range cryptoProviderIDs {
		if pid == id {
			return a, true
		}
	}
	return "", false
}

// CryptoAssets lists the supported crypto symbols in a stable order.
func CryptoAssets() []Asset {
	return []Asset{AssetBTC, AssetETH, AssetUSDT, AssetUSDC, AssetSOL}
}

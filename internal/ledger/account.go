package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AssetID identifies one of the three ledgers the pool works with.
type AssetID uint16

const (
	AssetQuote AssetID = iota + 1
	AssetBase
	AssetShare
)

var (
	assetToID = map[string]AssetID{
		"quote": AssetQuote,
		"base":  AssetBase,
		"share": AssetShare,
	}
	idToAsset = map[AssetID]string{
		AssetQuote: "quote",
		AssetBase:  "base",
		AssetShare: "share",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

func (a AssetID) String() string {
	if name, ok := idToAsset[a]; ok {
		return name
	}
	return fmt.Sprintf("asset(%d)", uint16(a))
}

// ExternalHolder is the issuance boundary: mints are credited from it and
// burns are debited to it. Its balance is not tracked.
var ExternalHolder = common.Address{}

// AccountKey is the in-memory key for balance tracking.
type AccountKey struct {
	Holder  common.Address
	AssetID AssetID
}

func NewAccountKey(holder common.Address, asset AssetID) AccountKey {
	return AccountKey{Holder: holder, AssetID: asset}
}

func (k AccountKey) IsExternal() bool {
	return k.Holder == ExternalHolder
}

// AccountPath returns the string representation for storage/logging.
func (k AccountKey) AccountPath() string {
	if k.IsExternal() {
		return fmt.Sprintf("external:%s", k.AssetID)
	}
	return fmt.Sprintf("holder:%s:%s", k.Holder.Hex(), k.AssetID)
}

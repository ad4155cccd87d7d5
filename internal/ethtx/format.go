package ethtx

import (
	"fmt"
	"math/big"
	"strings"
)

var (
	weiPerEth  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	weiPerGwei = big.NewInt(1_000_000_000)
)

// DefaultExplorer is the block explorer used for links when none is configured.
const DefaultExplorer = "https://celoscan.io"

func WeiToEthString(wei *big.Int) string {
	return ratString(wei, weiPerEth, 6)
}

func WeiToGweiString(wei *big.Int) string {
	return ratString(wei, weiPerGwei, 2)
}

// ratString keeps the division exact; only the final rounding is lossy.
func ratString(v, unit *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(v, unit)
	return r.FloatString(decimals)
}

func ExplorerTxURL(base, hash string) string {
	if base == "" {
		base = DefaultExplorer
	}
	return fmt.Sprintf("%s/tx/%s", strings.TrimRight(base, "/"), hash)
}

package tg

import (
	"errors"
	"math/big"
	"regexp"
	"strings"
)

var (
	reTxHash  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	reEthAddr = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	weiPerEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	ErrInvalidAmount = errors.New("invalid amount")
)

func IsTxHash(s string) bool {
	return reTxHash.MatchString(strings.TrimSpace(s))
}

func IsEthAddress(s string) bool {
	return reEthAddr.MatchString(strings.TrimSpace(s))
}

// ParseAmountToWei парсит сумму в нативной монете ("1.5", "0,5") в wei (floor), требует > 0.
func ParseAmountToWei(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	amount = strings.ReplaceAll(amount, ",", ".")

	r, ok := new(big.Rat).SetString(amount)
	if !ok || r.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	r.Mul(r, new(big.Rat).SetInt(weiPerEth))

	out := new(big.Int).Quo(r.Num(), r.Denom())
	if out.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return out, nil
}

// ParseCommand splits "/fees@paytrack_bot fast" into "fees" and ["fast"].
// ok is false for text that is not a command.
func ParseCommand(text string) (cmd string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", nil, false
	}
	return strings.ToLower(cmd), fields[1:], true
}

package tg

import (
	"math/big"
	"slices"
	"strings"
	"testing"
)

func TestParseAmountToWei(t *testing.T) {
	got, err := ParseAmountToWei("1")
	if err != nil || got.Cmp(weiPerEth) != 0 {
		t.Fatalf("expected 1 coin, got=%v err=%v", got, err)
	}

	half, err := ParseAmountToWei("0.5")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if half.Cmp(new(big.Int).Div(weiPerEth, big.NewInt(2))) != 0 {
		t.Fatalf("expected 0.5 in wei, got=%v", half)
	}

	for _, bad := range []string{"0", "-1", "abc", "", "0.0000000000000000001"} {
		if _, err := ParseAmountToWei(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}

	got, err = ParseAmountToWei("1,5")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	exp := new(big.Int).Mul(weiPerEth, big.NewInt(3))
	exp.Div(exp, big.NewInt(2))
	if got.Cmp(exp) != 0 {
		t.Fatalf("expected 1.5, got=%v", got)
	}
}

func TestValidators(t *testing.T) {
	if !IsTxHash("0x" + strings.Repeat("a", 64)) {
		t.Fatalf("expected valid tx hash")
	}
	if IsTxHash("0x123") || IsTxHash(strings.Repeat("a", 64)) {
		t.Fatalf("expected invalid tx hash")
	}

	if !IsEthAddress(" 0x" + strings.Repeat("b", 40) + " ") {
		t.Fatalf("expected valid address")
	}
	if IsEthAddress("0x" + strings.Repeat("b", 39)) {
		t.Fatalf("expected invalid address")
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		cmd  string
		args []string
		ok   bool
	}{
		{"/fees fast", "fees", []string{"fast"}, true},
		{"/Recent@paytrack_bot", "recent", []string{}, true},
		{"  /watch   0xabc  ", "watch", []string{"0xabc"}, true},
		{"hello", "", nil, false},
		{"/", "", nil, false},
		{"", "", nil, false},
	}
	for _, tc := range cases {
		cmd, args, ok := ParseCommand(tc.in)
		if ok != tc.ok || cmd != tc.cmd || (ok && !slices.Equal(args, tc.args)) {
			t.Fatalf("ParseCommand(%q) = %q %v %v", tc.in, cmd, args, ok)
		}
	}
}

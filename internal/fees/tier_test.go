package fees

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTiers(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTiers(t *testing.T) {
	path := writeTiers(t, `
tiers:
  - name: eco
    multiplier: 70
    label: Economy
    expected: "~10 min"
  - name: rush
    multiplier: 150
`)
	tiers, err := LoadTiers(path)
	require.NoError(t, err)
	require.Equal(t, []Tier{
		{Name: "eco", Multiplier: 70, Label: "Economy", Expected: "~10 min"},
		{Name: "rush", Multiplier: 150},
	}, tiers)
}

func TestLoadTiers_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":     "tiers: []\n",
		"duplicate": "tiers:\n  - {name: a, multiplier: 1}\n  - {name: a, multiplier: 2}\n",
		"zero":      "tiers:\n  - {name: a, multiplier: 0}\n",
		"unnamed":   "tiers:\n  - {multiplier: 10}\n",
		"garbage":   "tiers: [\n",
	}
	for name, body := range cases {
		_, err := LoadTiers(writeTiers(t, body))
		require.Error(t, err, name)
	}

	_, err := LoadTiers(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultTiers(t *testing.T) {
	tiers := DefaultTiers()
	require.NoError(t, validateTiers(tiers))
	require.Equal(t, []int64{80, 100, 120}, []int64{tiers[0].Multiplier, tiers[1].Multiplier, tiers[2].Multiplier})
	require.Equal(t, []string{"~30s", "~15s", "~5s"}, []string{tiers[0].Expected, tiers[1].Expected, tiers[2].Expected})
	require.Equal(t, "⚡ Average", tiers[1].Label)
}

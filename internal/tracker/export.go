package tracker

import (
	"strconv"
	"strings"
	"time"
)

const exportTimeLayout = "1/2/2006, 3:04:05 PM"

var exportHeader = []string{
	"Hash", "From", "To", "Value", "Status", "Confirmations",
	"Timestamp", "Block", "Gas Used", "Memo",
}

// ExportDelimited renders records as comma-separated text: an unquoted header
// row, then one row per record with every field double-quoted.
func ExportDelimited(records []Record, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	lines := make([]string, 0, len(records)+1)
	lines = append(lines, strings.Join(exportHeader, ","))

	for _, r := range records {
		value := "0"
		if r.Value != nil {
			value = r.Value.String()
		}
		fields := []string{
			r.Hash,
			r.From,
			r.To,
			value,
			string(r.State),
			strconv.FormatUint(r.Confirmations, 10),
			r.SubmittedAt.In(loc).Format(exportTimeLayout),
			pendingOr(r.BlockNumber),
			pendingOr(r.GasUsed),
			r.Memo,
		}
		for i, f := range fields {
			fields[i] = quote(f)
		}
		lines = append(lines, strings.Join(fields, ","))
	}

	return strings.Join(lines, "\n")
}

func pendingOr(v *uint64) string {
	if v == nil {
		return "Pending"
	}
	return strconv.FormatUint(*v, 10)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

package tg

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pvzzle/paytrack/internal/ethtx"
	"github.com/pvzzle/paytrack/internal/fees"
	"github.com/pvzzle/paytrack/internal/subs"
	"github.com/pvzzle/paytrack/internal/tracker"
)

const symbol = "CELO"

func FormatRecords(title string, records []tracker.Record) string {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\n")

	if len(records) == 0 {
		sb.WriteString("— пусто")
		return sb.String()
	}

	for _, r := range records {
		bn := ""
		if r.BlockNumber != nil {
			bn = fmt.Sprintf(" #%d", *r.BlockNumber)
		}
		memo := ""
		if r.Memo != "" {
			memo = " · " + r.Memo
		}
		sb.WriteString(fmt.Sprintf(
			"%s %s (%s)%s\n  %s %s → %s%s\n",
			r.Mark(), shortenHash(r.Hash), r.Category, bn,
			ethtx.WeiToEthString(r.Value), symbol, shortenHash(r.To), memo,
		))
	}
	return sb.String()
}

func FormatRecord(r tracker.Record, explorer string) string {
	lines := []string{
		fmt.Sprintf("%s Транзакция %s", r.Mark(), r.State),
		"",
		"Hash: " + r.Hash,
		"From: " + r.From,
		"To: " + r.To,
		fmt.Sprintf("Value: %s %s", ethtx.WeiToEthString(r.Value), symbol),
		fmt.Sprintf("Confirmations: %d", r.Confirmations),
	}
	if r.BlockNumber != nil {
		lines = append(lines, fmt.Sprintf("Block: #%d", *r.BlockNumber))
	}
	if r.GasUsed != nil {
		lines = append(lines, fmt.Sprintf("Gas used: %d", *r.GasUsed))
	}
	if r.GasPrice != nil {
		lines = append(lines, fmt.Sprintf("Gas price: %s gwei", ethtx.WeiToGweiString(r.GasPrice)))
	}
	if r.Memo != "" {
		lines = append(lines, "Memo: "+r.Memo)
	}
	lines = append(lines, ethtx.ExplorerTxURL(explorer, r.Hash))
	return strings.Join(lines, "\n")
}

// FormatUpdate is the push message for a lifecycle change.
func FormatUpdate(r tracker.Record) string {
	switch r.State {
	case tracker.StateConfirmed:
		if r.Confirmations <= 1 {
			return fmt.Sprintf("%s %s подтверждена: %s %s", r.Mark(), shortenHash(r.Hash), ethtx.WeiToEthString(r.Value), symbol)
		}
		return fmt.Sprintf("%s %s: %d подтверждений", r.Mark(), shortenHash(r.Hash), r.Confirmations)
	case tracker.StateFailed:
		return fmt.Sprintf("%s %s не прошла", r.Mark(), shortenHash(r.Hash))
	default:
		return fmt.Sprintf("%s %s ожидает подтверждения", r.Mark(), shortenHash(r.Hash))
	}
}

func FormatStats(st tracker.Stats) string {
	return fmt.Sprintf(
		"📊 Статистика\n\nВсего: %d\nОжидают: %d\nПодтверждены: %d\nОшибки: %d\nОбъём: %s %s\nGas used: %d\nУспешность: %.1f%%",
		st.Total, st.Pending, st.Confirmed, st.Failed,
		ethtx.WeiToEthString(st.TotalValue), symbol,
		st.TotalGasUsed, st.SuccessRate*100,
	)
}

func FormatQuote(q fees.Quote) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⛽ Комиссии (base fee %s gwei)\n\n", ethtx.WeiToGweiString(q.BaseFee.Wei)))

	for _, tq := range q.Tiers {
		mark := "  "
		if tq.Tier.Name == q.Selected {
			mark = "▶ "
		}
		sb.WriteString(fmt.Sprintf("%s%s: %s gwei, %s %s (%s)\n",
			mark, tq.Tier.Label, ethtx.WeiToGweiString(tq.GasPrice),
			ethtx.WeiToEthString(tq.Cost), symbol, tq.Tier.Expected,
		))
	}

	limit := fmt.Sprintf("\nGas limit: %d", q.GasLimit)
	if q.DefaultedLimit {
		limit += " (по умолчанию)"
	}
	sb.WriteString(limit)

	slow, okSlow := q.ForTier(fees.TierSlow)
	fast, okFast := q.ForTier(fees.TierFast)
	if okSlow && okFast {
		s := fees.Savings(slow.Cost, fast.Cost)
		sb.WriteString(fmt.Sprintf("\nЭкономия slow vs fast: %s %s (%.1f%%)", ethtx.WeiToEthString(s.Amount), symbol, s.Percent))
	}
	return sb.String()
}

func FormatDynamicFees(df fees.DynamicFees) string {
	return fmt.Sprintf("EIP-1559: max fee %s gwei, tip %s gwei",
		ethtx.WeiToGweiString(df.MaxFee), ethtx.WeiToGweiString(df.MaxPriorityFee))
}

// FormatEstimate lists the gas limit and cost of a transfer to each recipient
// at gasPrice.
func FormatEstimate(gasPrice *big.Int, to []common.Address, est []fees.GasEstimate) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🧮 Оценка по %s gwei\n\n", ethtx.WeiToGweiString(gasPrice)))

	total := new(big.Int)
	for i, e := range est {
		cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(e.Limit))
		total.Add(total, cost)

		line := fmt.Sprintf("%s: %d gas", shortenHash(to[i].Hex()), e.Limit)
		if e.Defaulted {
			line += " (по умолчанию)"
		}
		sb.WriteString(fmt.Sprintf("%s, %s %s\n", line, ethtx.WeiToEthString(cost), symbol))
	}
	sb.WriteString(fmt.Sprintf("\nИтого: %s %s", ethtx.WeiToEthString(total), symbol))
	return sb.String()
}

func FormatCongestion(c fees.Congestion) string {
	switch c {
	case fees.CongestionLow:
		return "🟢 Сеть свободна"
	case fees.CongestionMedium:
		return "🟡 Умеренная нагрузка"
	case fees.CongestionHigh:
		return "🔴 Сеть перегружена"
	default:
		return "❓ Не удалось определить нагрузку"
	}
}

func FormatSubs(u subs.ChatSubs, ok bool) string {
	lines := []string{"📌 Твои подписки:"}

	if !ok || (u.LargeTxMinWei == nil && u.Wallet == nil) {
		return strings.Join(append(lines, "— нет активных подписок"), "\n")
	}
	if u.LargeTxMinWei != nil {
		lines = append(lines, fmt.Sprintf("— Крупные объемы: Value >= %s %s", ethtx.WeiToEthString(u.LargeTxMinWei), symbol))
	} else {
		lines = append(lines, "— Крупные объемы: (нет)")
	}
	if u.Wallet != nil {
		lines = append(lines, "— Кошелёк: "+u.Wallet.Hex())
	} else {
		lines = append(lines, "— Кошелёк: (нет)")
	}
	return strings.Join(lines, "\n")
}

func shortenHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}

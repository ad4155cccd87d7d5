package tg

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/pvzzle/paytrack/internal/errs"
	"github.com/pvzzle/paytrack/internal/ethtx"
	"github.com/pvzzle/paytrack/internal/fees"
	"github.com/pvzzle/paytrack/internal/tracker"
)

const (
	cbTrack     = "track"
	cbRecent    = "recent"
	cbStats     = "stats"
	cbFees      = "fees"
	cbSubscribe = "subscribe"

	cbSubLarge  = "sub_large"
	cbSubWallet = "sub_wallet"

	cbMySubs      = "my_subs"
	cbUnsubLarge  = "unsub_large"
	cbUnsubWallet = "unsub_wallet"
	cbUnsubAll    = "unsub_all"
	cbBackToMain  = "back_main"

	// cbTierPrefix + tier name selects the default tier
	cbTierPrefix = "tier:"

	recentLimit = 10
)

// Tracker is the part of *tracker.Tracker the bot drives.
type Tracker interface {
	Record(desc tracker.Descriptor) (tracker.Record, error)
	Submit(ctx context.Context, tx *types.Transaction, memo, category string) (tracker.Record, error)
	Clear()
	ByHash(hash string) (tracker.Record, bool)
	Recent(n int) []tracker.Record
	Stats() tracker.Stats
	ExportDelimited() string
}

// Estimator is the part of *fees.Estimator the bot drives.
type Estimator interface {
	Quote(ctx context.Context, tier string, msg *ethereum.CallMsg) (fees.Quote, error)
	SelectTier(name string) error
	CongestionLevel(ctx context.Context) fees.Congestion
	Tiers() []fees.Tier
	DynamicFees(ctx context.Context) (fees.DynamicFees, bool, error)
	Annotate(ctx context.Context, msg ethereum.CallMsg, tier string) (fees.Annotated, error)
	EstimateGasLimits(ctx context.Context, msgs []ethereum.CallMsg) []fees.GasEstimate
}

type reply struct {
	text     string
	markup   models.ReplyMarkup
	document []byte
	filename string
}

func textReply(format string, args ...any) reply {
	return reply{text: fmt.Sprintf(format, args...)}
}

func mainMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Track", CallbackData: cbTrack},
				{Text: "Recent", CallbackData: cbRecent},
			},
			{
				{Text: "Stats", CallbackData: cbStats},
				{Text: "Fees", CallbackData: cbFees},
			},
			{
				{Text: "Subscribe", CallbackData: cbSubscribe},
				{Text: "My subscriptions", CallbackData: cbMySubs},
			},
		},
	}
}

func backMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Назад", CallbackData: cbBackToMain}},
		},
	}
}

func (s *Service) tierMenu() *models.InlineKeyboardMarkup {
	row := make([]models.InlineKeyboardButton, 0, 3)
	for _, t := range s.fees.Tiers() {
		row = append(row, models.InlineKeyboardButton{Text: t.Label, CallbackData: cbTierPrefix + t.Name})
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{row, {{Text: "Назад", CallbackData: cbBackToMain}}},
	}
}

func subsMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Удалить: крупные объемы", CallbackData: cbUnsubLarge}},
			{{Text: "Удалить: кошелёк", CallbackData: cbUnsubWallet}},
			{{Text: "Удалить всё", CallbackData: cbUnsubAll}},
			{{Text: "Назад", CallbackData: cbBackToMain}},
		},
	}
}

// handleText routes one incoming message: commands first, then whatever the
// chat was asked to type.
func (s *Service) handleText(ctx context.Context, chatID int64, text string) reply {
	text = strings.TrimSpace(text)

	if cmd, args, ok := ParseCommand(text); ok {
		s.state.Set(chatID, StateIdle)
		return s.command(ctx, chatID, cmd, args)
	}

	switch s.state.Take(chatID) {
	case StateAwaitTxHash:
		hash, memo, _ := strings.Cut(text, " ")
		return s.track(ctx, hash, strings.TrimSpace(memo))
	case StateAwaitLargeAmount:
		return s.setLarge(chatID, text)
	case StateAwaitWalletAddress:
		return s.watch(chatID, text)
	default:
		return textReply("Используй /start, чтобы открыть меню.")
	}
}

func (s *Service) command(ctx context.Context, chatID int64, cmd string, args []string) reply {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch cmd {
	case "start", "help":
		return reply{
			text:   "Привет! Я слежу за платежами и подсказываю комиссии.\n\nКоманды: /track <hash> [memo], /recent, /stats, /fees [tier], /tier <name>, /congestion, /estimate <amount> <to>..., /send <raw tx> [memo], /export, /clear, /watch <address>, /unwatch, /large <amount>, /subs",
			markup: mainMenu(),
		}
	case "track":
		if len(args) == 0 {
			s.state.Set(chatID, StateAwaitTxHash)
			return textReply("Введи хэш транзакции (0x...), можно с заметкой через пробел:")
		}
		return s.track(ctx, args[0], strings.Join(args[1:], " "))
	case "recent":
		return reply{text: FormatRecords(fmt.Sprintf("🕘 Последние %d", recentLimit), s.tracker.Recent(recentLimit)), markup: backMenu()}
	case "stats":
		return reply{text: FormatStats(s.tracker.Stats()), markup: backMenu()}
	case "fees":
		return s.quote(ctx, arg(0))
	case "tier":
		if len(args) == 0 {
			return reply{text: "Выбери тариф по умолчанию:", markup: s.tierMenu()}
		}
		return s.selectTier(args[0])
	case "congestion":
		return textReply("%s", FormatCongestion(s.fees.CongestionLevel(ctx)))
	case "estimate":
		return s.estimate(ctx, args)
	case "send":
		if len(args) == 0 {
			return textReply("Использование: /send <подписанная транзакция 0x...> [memo]")
		}
		return s.submit(ctx, args[0], strings.Join(args[1:], " "))
	case "export":
		return s.export()
	case "clear":
		s.tracker.Clear()
		return textReply("🗑 История очищена.")
	case "watch":
		if len(args) == 0 {
			s.state.Set(chatID, StateAwaitWalletAddress)
			return textReply("Введи адрес кошелька (0x...):")
		}
		return s.watch(chatID, args[0])
	case "unwatch":
		s.subStore.ClearWallet(chatID)
		return textReply("✅ Подписка на кошелёк удалена.")
	case "large":
		if len(args) == 0 {
			s.state.Set(chatID, StateAwaitLargeAmount)
			return textReply("Введи сумму в %s (> 0), например: 1.5", symbol)
		}
		return s.setLarge(chatID, args[0])
	case "subs":
		u, ok := s.subStore.GetCopy(chatID)
		return reply{text: FormatSubs(u, ok), markup: subsMenu()}
	default:
		return textReply("Не знаю команду /%s. Попробуй /help.", cmd)
	}
}

func (s *Service) handleCallback(ctx context.Context, chatID int64, data string) reply {
	if name, ok := strings.CutPrefix(data, cbTierPrefix); ok {
		return s.selectTier(name)
	}

	switch data {
	case cbTrack:
		return s.command(ctx, chatID, "track", nil)
	case cbRecent:
		return s.command(ctx, chatID, "recent", nil)
	case cbStats:
		return s.command(ctx, chatID, "stats", nil)
	case cbFees:
		return s.quote(ctx, "")
	case cbSubscribe:
		s.state.Set(chatID, StateIdle)
		return reply{
			text: "Что отслеживать?",
			markup: &models.InlineKeyboardMarkup{
				InlineKeyboard: [][]models.InlineKeyboardButton{
					{{Text: "Крупные объемы (" + symbol + ")", CallbackData: cbSubLarge}},
					{{Text: "Кошелёк (sender/receiver)", CallbackData: cbSubWallet}},
				},
			},
		}
	case cbSubLarge:
		return s.command(ctx, chatID, "large", nil)
	case cbSubWallet:
		return s.command(ctx, chatID, "watch", nil)
	case cbMySubs:
		return s.command(ctx, chatID, "subs", nil)
	case cbUnsubLarge:
		s.subStore.ClearLargeTx(chatID)
		return s.mySubs(chatID, "✅ Подписка на крупные объемы удалена.")
	case cbUnsubWallet:
		s.subStore.ClearWallet(chatID)
		return s.mySubs(chatID, "✅ Подписка на кошелёк удалена.")
	case cbUnsubAll:
		s.subStore.ClearAll(chatID)
		return s.mySubs(chatID, "✅ Все подписки удалены.")
	case cbBackToMain:
		s.state.Set(chatID, StateIdle)
		return reply{text: "Главное меню:", markup: mainMenu()}
	default:
		return textReply("Неизвестная кнопка.")
	}
}

func (s *Service) mySubs(chatID int64, done string) reply {
	u, ok := s.subStore.GetCopy(chatID)
	return reply{text: done + "\n\n" + FormatSubs(u, ok), markup: subsMenu()}
}

func (s *Service) track(ctx context.Context, hashStr, memo string) reply {
	if !IsTxHash(hashStr) {
		return textReply("Похоже, это не хэш транзакции. Ожидаю 0x + 64 hex символа.")
	}
	h := common.HexToHash(hashStr)

	if rec, ok := s.tracker.ByHash(h.Hex()); ok {
		return textReply("Уже отслеживаю.\n\n%s", FormatRecord(rec, s.explorer))
	}

	info, err := ethtx.Lookup(ctx, s.txs, h, true)
	if err != nil {
		s.logger.Debug("lookup failed", zap.String("hash", h.Hex()), zap.Error(err))
		return textReply("Не нашёл транзакцию: %v", err)
	}

	rec, err := s.tracker.Record(tracker.Descriptor{
		Hash:     info.Hash.Hex(),
		From:     info.From.Hex(),
		To:       info.To.Hex(),
		Value:    info.Value,
		Memo:     memo,
		GasPrice: info.GasPrice,
	})
	if err != nil {
		return textReply("Не удалось начать отслеживание: %v", err)
	}
	return textReply("👀 Отслеживаю\n\n%s", FormatRecord(rec, s.explorer))
}

func (s *Service) quote(ctx context.Context, tier string) reply {
	q, err := s.fees.Quote(ctx, tier, nil)
	switch {
	case errs.IsValidation(err):
		return reply{text: fmt.Sprintf("Неизвестный тариф %q.", tier), markup: s.tierMenu()}
	case err != nil:
		s.logger.Warn("fee quote failed", zap.Error(err))
		return textReply("Не удалось получить комиссии, попробуй позже.")
	}
	text := FormatQuote(q)
	df, ok, err := s.fees.DynamicFees(ctx)
	switch {
	case err != nil:
		s.logger.Debug("dynamic fees unavailable", zap.Error(err))
	case ok:
		text += "\n" + FormatDynamicFees(df)
	}
	return reply{text: text, markup: s.tierMenu()}
}

// estimate prices a transfer of amount to each recipient at the selected tier.
func (s *Service) estimate(ctx context.Context, args []string) reply {
	const usage = "Использование: /estimate <сумма> <адрес> [адрес...]"
	if len(args) < 2 {
		return textReply(usage)
	}
	value, err := ParseAmountToWei(args[0])
	if err != nil {
		return textReply(usage)
	}

	to := make([]common.Address, 0, len(args)-1)
	msgs := make([]ethereum.CallMsg, 0, len(args)-1)
	for _, a := range args[1:] {
		if !IsEthAddress(a) {
			return textReply("Похоже, %q не адрес. Ожидаю 0x + 40 hex символов.", a)
		}
		addr := common.HexToAddress(a)
		to = append(to, addr)
		msgs = append(msgs, ethereum.CallMsg{To: &addr, Value: value})
	}

	if len(msgs) == 1 {
		an, err := s.fees.Annotate(ctx, msgs[0], "")
		if err != nil {
			s.logger.Warn("annotate failed", zap.Error(err))
			return textReply("Не удалось получить комиссии, попробуй позже.")
		}
		return textReply("%s", FormatEstimate(an.GasPrice, to, []fees.GasEstimate{{Limit: an.GasLimit, Defaulted: an.DefaultedLimit}}))
	}

	q, err := s.fees.Quote(ctx, "", nil)
	if err != nil {
		s.logger.Warn("fee quote failed", zap.Error(err))
		return textReply("Не удалось получить комиссии, попробуй позже.")
	}
	return textReply("%s", FormatEstimate(q.Selection().GasPrice, to, s.fees.EstimateGasLimits(ctx, msgs)))
}

// submit broadcasts a signed raw transaction and starts tracking it.
func (s *Service) submit(ctx context.Context, raw, memo string) reply {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return textReply("Не удалось разобрать транзакцию: ожидаю 0x + hex.")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(b); err != nil {
		return textReply("Не удалось разобрать транзакцию: %v", err)
	}

	rec, err := s.tracker.Submit(ctx, tx, memo, "")
	switch {
	case errs.IsValidation(err):
		return textReply("Транзакция отклонена: %v", err)
	case err != nil:
		s.logger.Warn("submit failed", zap.String("hash", tx.Hash().Hex()), zap.Error(err))
		return textReply("Не удалось отправить транзакцию, попробуй позже.")
	}
	return textReply("🚀 Отправлено\n\n%s", FormatRecord(rec, s.explorer))
}

func (s *Service) selectTier(name string) reply {
	name = strings.ToLower(strings.TrimSpace(name))
	if err := s.fees.SelectTier(name); err != nil {
		if errs.IsValidation(err) {
			return reply{text: fmt.Sprintf("Неизвестный тариф %q.", name), markup: s.tierMenu()}
		}
		return textReply("Ошибка: %v", err)
	}
	return textReply("✅ Тариф по умолчанию: %s", name)
}

func (s *Service) export() reply {
	if s.tracker.Stats().Total == 0 {
		return textReply("Нечего выгружать, история пуста.")
	}
	return reply{
		text:     "📄 История транзакций",
		document: []byte(s.tracker.ExportDelimited()),
		filename: "transactions.csv",
	}
}

func (s *Service) watch(chatID int64, addrStr string) reply {
	if !IsEthAddress(addrStr) {
		return textReply("Похоже, это не адрес. Ожидаю 0x + 40 hex символов.")
	}
	addr := common.HexToAddress(addrStr)
	s.subStore.SetWallet(chatID, addr)
	return textReply("✅ Ок! Буду уведомлять о транзакциях, где участвует %s.", addr.Hex())
}

func (s *Service) setLarge(chatID int64, amountStr string) reply {
	minWei, err := ParseAmountToWei(amountStr)
	if err != nil {
		s.state.Set(chatID, StateAwaitLargeAmount)
		return textReply("Нужно число > 0 (например 0.5 или 10). Попробуй ещё раз.")
	}
	s.subStore.SetLargeTxMin(chatID, minWei)
	return textReply("✅ Ок! Буду уведомлять о транзакциях с Value >= %s %s.", ethtx.WeiToEthString(minWei), symbol)
}

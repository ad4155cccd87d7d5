package tg

import (
	"bytes"
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/pvzzle/paytrack/internal/bus"
	"github.com/pvzzle/paytrack/internal/ethtx"
	"github.com/pvzzle/paytrack/internal/logging"
	"github.com/pvzzle/paytrack/internal/subs"
)

type Deps struct {
	Tracker   Tracker
	Estimator Estimator
	// TxSource resolves hashes typed into /track
	TxSource ethtx.TxSource
	Subs     *subs.Store
	Notify   <-chan bus.Notification
	Explorer string
}

type Service struct {
	bot    *tgbot.Bot
	logger *zap.Logger

	tracker  Tracker
	fees     Estimator
	txs      ethtx.TxSource
	subStore *subs.Store
	notifyCh <-chan bus.Notification
	explorer string

	state *StateStore
}

// NewService registers the bot handlers. A nil bot builds a service that only
// renders replies.
func NewService(b *tgbot.Bot, logger *zap.Logger, deps Deps) *Service {
	s := &Service{
		bot:      b,
		logger:   logging.WithPackage(logger),
		tracker:  deps.Tracker,
		fees:     deps.Estimator,
		txs:      deps.TxSource,
		subStore: deps.Subs,
		notifyCh: deps.Notify,
		explorer: deps.Explorer,
		state:    NewStateStore(),
	}
	if s.subStore == nil {
		s.subStore = subs.NewStore()
	}
	if b != nil {
		s.registerHandlers()
	}
	return s
}

func (s *Service) registerHandlers() {
	for _, data := range []string{
		cbTrack, cbRecent, cbStats, cbFees, cbSubscribe,
		cbSubLarge, cbSubWallet,
		cbMySubs, cbUnsubLarge, cbUnsubWallet, cbUnsubAll, cbBackToMain,
	} {
		s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, data, tgbot.MatchTypeExact, s.onCallback)
	}
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbTierPrefix, tgbot.MatchTypePrefix, s.onCallback)

	// commands and free text share one handler so routing stays in handleText
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, s.onText)
}

func (s *Service) StartNotifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-s.notifyCh:
			if !ok {
				return
			}
			_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: n.ChatID,
				Text:   n.Text,
			})
			if err != nil {
				s.logger.Warn("send notify failed", zap.Int64("chat_id", n.ChatID), zap.Error(err))
			}
		}
	}
}

func (s *Service) onText(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	s.send(ctx, chatID, s.handleText(ctx, chatID, upd.Message.Text))
}

func (s *Service) onCallback(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	cb := upd.CallbackQuery
	if cb == nil || cb.Message.Type == models.MaybeInaccessibleMessageTypeInaccessibleMessage {
		return
	}
	if err := s.answerCallback(ctx, cb.ID); err != nil {
		s.logger.Debug("answer callback failed", zap.Error(err))
	}

	chatID := cb.Message.Message.Chat.ID
	s.send(ctx, chatID, s.handleCallback(ctx, chatID, cb.Data))
}

func (s *Service) send(ctx context.Context, chatID int64, r reply) {
	var err error
	if r.document != nil {
		_, err = s.bot.SendDocument(ctx, &tgbot.SendDocumentParams{
			ChatID:   chatID,
			Caption:  r.text,
			Document: &models.InputFileUpload{Filename: r.filename, Data: bytes.NewReader(r.document)},
		})
	} else {
		_, err = s.bot.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:      chatID,
			Text:        r.text,
			ReplyMarkup: r.markup,
		})
	}
	if err != nil {
		s.logger.Warn("send reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (s *Service) answerCallback(ctx context.Context, callbackID string) error {
	_, err := s.bot.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
	})
	return err
}

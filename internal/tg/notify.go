package tg

import (
	"go.uber.org/zap"

	"github.com/pvzzle/paytrack/internal/bus"
	"github.com/pvzzle/paytrack/internal/subs"
	"github.com/pvzzle/paytrack/internal/tracker"
)

// Fanout turns transaction.updated events into notifications for every chat
// subscribed to one of the parties. Publishing never blocks: when out is full
// the message is dropped. The returned func unsubscribes.
func Fanout(b *bus.Bus, store *subs.Store, out chan<- bus.Notification, logger *zap.Logger) func() {
	return b.Subscribe(bus.TopicTransactionUpdated, func(ev bus.Event) {
		rec, ok := ev.Payload.(tracker.Record)
		if !ok {
			return
		}

		text := FormatUpdate(rec)
		for _, chatID := range store.Match(rec.From, rec.To, rec.Value) {
			select {
			case out <- bus.Notification{ChatID: chatID, Text: text}:
			default:
				logger.Warn("notify buffer full, dropping",
					zap.Int64("chat_id", chatID),
					zap.String("hash", rec.Hash),
				)
			}
		}
	})
}

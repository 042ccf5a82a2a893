package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cubicbyte/dteubot-sub000/internal/app"
	idb "github.com/cubicbyte/dteubot-sub000/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

var (
	btnToggle15 = telebot.Btn{Unique: "notif_15"}
	btnToggle1  = telebot.Btn{Unique: "notif_1"}
)

// RegisterChatHandlers wires the thin chat-facing glue: registration, group
// selection and notification settings. All scheduling happens elsewhere.
func RegisterChatHandlers(
	ctx context.Context,
	b *telebot.Bot,
	settings *app.SettingsService,
	baseLogger *logrus.Entry,
) {
	log := baseLogger.WithField("handler_group", "chat")

	b.Handle("/start", func(c telebot.Context) error {
		chatID := c.Chat().ID
		logCtx := log.WithField("command", "/start").WithField("chat_id", chatID)
		logCtx.Info("Processing /start command")

		if _, err := settings.Register(ctx, chatID); err != nil {
			logCtx.WithError(err).Error("Failed to register chat")
			return c.Send("Сталася помилка. Спробуйте, будь ласка, пізніше.")
		}
		return c.Send("Привіт! Я надсилатиму розклад занять і нагадування перед початком пар.\n\n" +
			"Оберіть свою групу командою /group <ID групи>, потім налаштуйте нагадування через /settings.")
	})

	b.Handle("/group", func(c telebot.Context) error {
		chatID := c.Chat().ID
		logCtx := log.WithField("command", "/group").WithField("chat_id", chatID)

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Невірний формат команди. Використовуйте: /group <ID групи>")
		}
		groupID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Помилка: ID групи має бути числом.")
		}

		if err := settings.AssignGroup(ctx, chatID, groupID); err != nil {
			if errors.Is(err, idb.ErrChatNotFound) {
				return c.Send("Спочатку надішліть /start, щоб зареєструватися.")
			}
			logCtx.WithError(err).Error("Failed to assign group")
			return c.Send("Сталася помилка. Спробуйте, будь ласка, пізніше.")
		}
		return c.Send(fmt.Sprintf("Групу %d збережено. Нагадування про пари увімкнено.", groupID))
	})

	b.Handle("/settings", func(c telebot.Context) error {
		return sendSettings(ctx, c, settings, log)
	})

	b.Handle(&btnToggle15, func(c telebot.Context) error {
		return toggleOffset(ctx, c, settings, log, 15)
	})
	b.Handle(&btnToggle1, func(c telebot.Context) error {
		return toggleOffset(ctx, c, settings, log, 1)
	})
}

func toggleOffset(ctx context.Context, c telebot.Context, settings *app.SettingsService, log *logrus.Entry, offsetMin int) error {
	chatID := c.Chat().ID
	logCtx := log.WithFields(logrus.Fields{"callback": "toggle_offset", "chat_id": chatID, "offset_min": offsetMin})

	state, err := settings.GetState(ctx, chatID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load chat state")
		return c.Respond(&telebot.CallbackResponse{Text: "Сталася помилка."})
	}
	if err := settings.SetOffsetEnabled(ctx, chatID, offsetMin, !state.OffsetEnabled(offsetMin)); err != nil {
		logCtx.WithError(err).Error("Failed to toggle offset")
		return c.Respond(&telebot.CallbackResponse{Text: "Сталася помилка."})
	}
	if err := c.Respond(); err != nil {
		return err
	}
	return sendSettings(ctx, c, settings, log)
}

func sendSettings(ctx context.Context, c telebot.Context, settings *app.SettingsService, log *logrus.Entry) error {
	chatID := c.Chat().ID
	state, err := settings.GetState(ctx, chatID)
	if err != nil {
		if errors.Is(err, idb.ErrChatNotFound) {
			return c.Send("Спочатку надішліть /start, щоб зареєструватися.")
		}
		log.WithError(err).WithField("chat_id", chatID).Error("Failed to load chat state")
		return c.Send("Сталася помилка. Спробуйте, будь ласка, пізніше.")
	}

	group := "не обрано"
	if state.GroupID.Valid {
		group = strconv.FormatInt(state.GroupID.Int64, 10)
	}

	markup := &telebot.ReplyMarkup{}
	b15 := markup.Data(fmt.Sprintf("%s Нагадування за 15 хв", checkmark(state.OffsetEnabled(15))), btnToggle15.Unique)
	b1 := markup.Data(fmt.Sprintf("%s Нагадування за 1 хв", checkmark(state.OffsetEnabled(1))), btnToggle1.Unique)
	markup.Inline(markup.Row(b15), markup.Row(b1))

	text := fmt.Sprintf("⚙️ Налаштування\n\nГрупа: %s\n\nНагадування надсилаються незадовго до початку пари.", group)
	return c.Send(text, markup)
}

func checkmark(on bool) string {
	if on {
		return "✅"
	}
	return "❌"
}

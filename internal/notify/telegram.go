package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/MarkoPoloResearchLab/staylottery/pkg/lottery"
)

// ErrInvalidChatID indicates a missing Telegram chat identifier.
var ErrInvalidChatID = errors.New("notify: telegram chat id required")

// ErrNilSender indicates a missing Telegram client.
var ErrNilSender = errors.New("notify: telegram sender required")

// Sender delivers Telegram messages; *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error)
}

// DefaultSendInterval keeps one chat under the Bot API limit of about one message per second.
const DefaultSendInterval = time.Second

// TelegramNotifier posts draw notices to an operations chat.
// Sends are spaced by a shared limiter so a large draw queues instead of being rejected.
type TelegramNotifier struct {
	sender  Sender
	chatID  int64
	limiter *rate.Limiter
}

// TelegramOption customizes a TelegramNotifier.
type TelegramOption func(*TelegramNotifier)

// WithSendInterval sets the minimum gap between two messages. Zero disables throttling.
func WithSendInterval(interval time.Duration) TelegramOption {
	return func(notifier *TelegramNotifier) {
		if interval <= 0 {
			notifier.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		notifier.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// NewTelegramNotifier validates its collaborators.
func NewTelegramNotifier(sender Sender, chatID int64, options ...TelegramOption) (*TelegramNotifier, error) {
	if sender == nil {
		return nil, ErrNilSender
	}
	if chatID == 0 {
		return nil, ErrInvalidChatID
	}
	notifier := &TelegramNotifier{
		sender:  sender,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(DefaultSendInterval), 1),
	}
	for _, option := range options {
		if option != nil {
			option(notifier)
		}
	}
	return notifier, nil
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

// NotifyWinner implements lottery.Notifier.
func (notifier *TelegramNotifier) NotifyWinner(ctx context.Context, notice lottery.WinnerNotice) error {
	return notifier.send(ctx, winnerText(notice))
}

// NotifyNonWinner implements lottery.Notifier.
func (notifier *TelegramNotifier) NotifyNonWinner(ctx context.Context, notice lottery.NonWinnerNotice) error {
	return notifier.send(ctx, nonWinnerText(notice))
}

func (notifier *TelegramNotifier) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := notifier.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram throttle: %w", err)
	}
	message := tgbotapi.NewMessage(notifier.chatID, text)
	if _, err := notifier.sender.Send(message); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func winnerText(notice lottery.WinnerNotice) string {
	return fmt.Sprintf("Lottery winner #%d: %s <%s>\n%s, %s to %s",
		notice.Rank,
		notice.Recipient.Name,
		notice.Recipient.Email,
		notice.AccommodationName,
		notice.CheckInDate.Format(dateLayout),
		notice.CheckOutDate.Format(dateLayout),
	)
}

func nonWinnerText(notice lottery.NonWinnerNotice) string {
	var builder strings.Builder
	if notice.Ineligible {
		fmt.Fprintf(&builder, "Not eligible (recent win), placed #%d: %s <%s>\n", notice.Rank, notice.Recipient.Name, notice.Recipient.Email)
	} else {
		fmt.Fprintf(&builder, "Not selected, placed #%d: %s <%s>\n", notice.Rank, notice.Recipient.Name, notice.Recipient.Email)
	}
	fmt.Fprintf(&builder, "%s, %s to %s\n",
		notice.AccommodationName,
		notice.CheckInDate.Format(dateLayout),
		notice.CheckOutDate.Format(dateLayout),
	)
	fmt.Fprintf(&builder, "%d applicants for %d rooms (%.2f per room)",
		notice.TotalApplicants,
		notice.AvailableRooms,
		notice.CompetitionRate,
	)
	return builder.String()
}

package notify

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/staylottery/pkg/lottery"
)

// Fanout delivers each notice to every wrapped notifier.
// A notice fails when any notifier fails; the others still run.
type Fanout struct {
	notifiers []lottery.Notifier
}

// NewFanout skips nil notifiers.
func NewFanout(notifiers ...lottery.Notifier) *Fanout {
	kept := make([]lottery.Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			kept = append(kept, notifier)
		}
	}
	return &Fanout{notifiers: kept}
}

// Len reports how many notifiers receive each notice.
func (fanout *Fanout) Len() int {
	return len(fanout.notifiers)
}

// NotifyWinner implements lottery.Notifier.
func (fanout *Fanout) NotifyWinner(ctx context.Context, notice lottery.WinnerNotice) error {
	var errs []error
	for _, notifier := range fanout.notifiers {
		if err := notifier.NotifyWinner(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyNonWinner implements lottery.Notifier.
func (fanout *Fanout) NotifyNonWinner(ctx context.Context, notice lottery.NonWinnerNotice) error {
	var errs []error
	for _, notifier := range fanout.notifiers {
		if err := notifier.NotifyNonWinner(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package notify

import (
	"context"

	"go.uber.org/multierr"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans a notification out to every configured notifier and returns
// all of their errors combined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, title, text))
	}
	return err
}

// Len counts the non-nil notifiers.
func (m Multi) Len() int {
	c := 0
	for _, n := range m {
		if n != nil {
			c++
		}
	}
	return c
}

package email

import (
	"context"
	"time"
)

// Recipient is one target of a bulk send.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// BulkMessage is the content shared by every recipient of a bulk send.
type BulkMessage struct {
	Subject  string
	HTMLBody string
	TextBody string
	FromName string
	Headers  map[string]string
}

// BulkOptions tunes SendBulk.
type BulkOptions struct {
	// Delay is slept between consecutive sends.
	Delay time.Duration
	// Send overrides the per-recipient send, e.g. to wrap it in a retry policy.
	Send func(ctx context.Context, msg *Message) (*Result, error)
}

// BulkResult pairs a recipient with its outcome.
type BulkResult struct {
	Recipient Recipient
	Result    *Result
	Err       error
}

// SendBulk delivers msg to every recipient. Providers implementing BulkSender
// handle the batch themselves; otherwise recipients are sent one at a time
// with opts.Delay between sends. A cancelled ctx stops the loop and the
// remaining recipients are reported with the context error.
func SendBulk(ctx context.Context, p Provider, recipients []Recipient, msg BulkMessage, opts BulkOptions) []BulkResult {
	if b, ok := p.(BulkSender); ok && opts.Send == nil {
		return b.SendBulk(ctx, recipients, msg, opts)
	}

	send := opts.Send
	if send == nil {
		send = p.Send
	}

	results := make([]BulkResult, 0, len(recipients))
	for i, rcpt := range recipients {
		if i > 0 && opts.Delay > 0 {
			if !sleep(ctx, opts.Delay) {
				return appendCancelled(results, recipients[i:], ctx.Err())
			}
		}
		if err := ctx.Err(); err != nil {
			return appendCancelled(results, recipients[i:], err)
		}

		res, err := send(ctx, &Message{
			To:       rcpt.Email,
			ToName:   rcpt.Name,
			FromName: msg.FromName,
			Subject:  msg.Subject,
			HTMLBody: msg.HTMLBody,
			TextBody: msg.TextBody,
			Headers:  msg.Headers,
		})
		results = append(results, BulkResult{Recipient: rcpt, Result: res, Err: err})
	}
	return results
}

func appendCancelled(results []BulkResult, rest []Recipient, err error) []BulkResult {
	for _, rcpt := range rest {
		results = append(results, BulkResult{Recipient: rcpt, Err: err})
	}
	return results
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

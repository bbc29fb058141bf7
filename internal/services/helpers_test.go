package services

import (
	"context"
	"sync"
	"time"

	"ledgercore/internal/events"
	"ledgercore/internal/notify"
)

// recordingObserver counts post-commit ledger notifications per user.
type recordingObserver struct {
	mu    sync.Mutex
	calls map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{calls: make(map[string]int)}
}

func (o *recordingObserver) LedgerChanged(_ context.Context, userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[userID]++
}

func (o *recordingObserver) count(userID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[userID]
}

// fakeEmailSender records alert emails and can be told to fail.
type fakeEmailSender struct {
	mu   sync.Mutex
	err  error
	sent []notify.BudgetAlert
	to   []string
}

func (f *fakeEmailSender) SendBudgetAlert(_ context.Context, to string, alert notify.BudgetAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, alert)
	f.to = append(f.to, to)
	return nil
}

// fakePublisher records published alert events.
type fakePublisher struct {
	mu     sync.Mutex
	events []events.AlertEvent
}

func (f *fakePublisher) PublishAlert(_ context.Context, event events.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Package alarm raises operational alarms for failures the service cannot
// compensate itself, such as a refund that did not go through.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"story-workers/internal/common/logger"
)

// Alarm describes one operational incident.
type Alarm struct {
	Kind      string
	UserID    string
	RequestID string
	Amount    int64
	Reason    string
	At        time.Time
}

func (a Alarm) Subject() string {
	return fmt.Sprintf("[story-service] %s for user %s", a.Kind, a.UserID)
}

func (a Alarm) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kind: %s\n", a.Kind)
	fmt.Fprintf(&b, "user: %s\n", a.UserID)
	fmt.Fprintf(&b, "request: %s\n", a.RequestID)
	fmt.Fprintf(&b, "amount: %d\n", a.Amount)
	fmt.Fprintf(&b, "at: %s\n", a.At.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "reason: %s\n", a.Reason)
	return b.String()
}

func (a Alarm) Attributes() map[string]string {
	return map[string]string{
		"kind":      a.Kind,
		"userId":    a.UserID,
		"requestId": a.RequestID,
		"amount":    strconv.FormatInt(a.Amount, 10),
	}
}

type Notifier interface {
	Notify(ctx context.Context, alarm Alarm) error
}

type topicPublisher interface {
	PublishToTopic(ctx context.Context, topicARN, subject, message string, attrs map[string]string) error
}

type mailSender interface {
	SendText(ctx context.Context, from string, to []string, subject, body string) error
}

// SNSNotifier publishes alarms to an SNS topic.
type SNSNotifier struct {
	client   topicPublisher
	topicARN string
}

func NewSNSNotifier(client topicPublisher, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (n *SNSNotifier) Notify(ctx context.Context, alarm Alarm) error {
	if err := n.client.PublishToTopic(ctx, n.topicARN, alarm.Subject(), alarm.Body(), alarm.Attributes()); err != nil {
		return fmt.Errorf("publish alarm: %w", err)
	}
	return nil
}

// SESNotifier mails alarms to a fixed list of operators.
type SESNotifier struct {
	client mailSender
	from   string
	to     []string
}

func NewSESNotifier(client mailSender, from string, to []string) *SESNotifier {
	return &SESNotifier{client: client, from: from, to: to}
}

func (n *SESNotifier) Notify(ctx context.Context, alarm Alarm) error {
	if err := n.client.SendText(ctx, n.from, n.to, alarm.Subject(), alarm.Body()); err != nil {
		return fmt.Errorf("mail alarm: %w", err)
	}
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, alarm Alarm) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alarm); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alarms to the log only. It is the fallback when no
// alarm channel is configured.
type LogNotifier struct {
	logger logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log.WithFields(map[string]interface{}{"component": "alarm"})}
}

func (n *LogNotifier) Notify(_ context.Context, alarm Alarm) error {
	n.logger.Error("operational alarm", map[string]interface{}{
		"kind":      alarm.Kind,
		"userId":    alarm.UserID,
		"requestId": alarm.RequestID,
		"amount":    alarm.Amount,
		"reason":    alarm.Reason,
	})
	return nil
}

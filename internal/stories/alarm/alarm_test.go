package alarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"story-workers/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	topic   string
	subject string
	attrs   map[string]string
	err     error
}

func (f *fakePublisher) PublishToTopic(_ context.Context, topicARN, subject, _ string, attrs map[string]string) error {
	f.topic, f.subject, f.attrs = topicARN, subject, attrs
	return f.err
}

type fakeMailer struct {
	to   []string
	body string
	err  error
}

func (f *fakeMailer) SendText(_ context.Context, _ string, to []string, _, body string) error {
	f.to, f.body = to, body
	return f.err
}

func testAlarm() Alarm {
	return Alarm{
		Kind:      "REFUND_FAILED",
		UserID:    "user-1",
		RequestID: "req-1",
		Amount:    1,
		Reason:    "connection reset",
		At:        time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC),
	}
}

func TestSNSNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewSNSNotifier(pub, "arn:aws:sns:eu-west-1:123:alarms")

	require.NoError(t, n.Notify(context.Background(), testAlarm()))

	assert.Equal(t, "arn:aws:sns:eu-west-1:123:alarms", pub.topic)
	assert.Equal(t, "[story-service] REFUND_FAILED for user user-1", pub.subject)
	assert.Equal(t, "1", pub.attrs["amount"])
	assert.Equal(t, "req-1", pub.attrs["requestId"])
}

func TestSESNotifier(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewSESNotifier(mailer, "alarms@example.com", []string{"ops@example.com"})

	require.NoError(t, n.Notify(context.Background(), testAlarm()))

	assert.Equal(t, []string{"ops@example.com"}, mailer.to)
	assert.Contains(t, mailer.body, "reason: connection reset")
	assert.Contains(t, mailer.body, "at: 2024-05-01T21:00:00Z")
}

func TestMulti_JoinsErrors(t *testing.T) {
	snsErr := errors.New("throttled")
	mailer := &fakeMailer{}
	m := Multi{
		NewSNSNotifier(&fakePublisher{err: snsErr}, "arn"),
		NewSESNotifier(mailer, "a@example.com", []string{"b@example.com"}),
		NewLogNotifier(logger.NewTestLogger(t)),
	}

	err := m.Notify(context.Background(), testAlarm())
	assert.ErrorIs(t, err, snsErr)
	assert.NotEmpty(t, mailer.body)
}

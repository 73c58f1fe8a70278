package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.subject = subj
	f.data = data
	return f.err
}

func TestPublishEncodesEvent(t *testing.T) {
	conn := &fakeConn{}
	p := &Publisher{conn: conn}

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), Event{
		Type:       TypeStatusChanged,
		RequestID:  12,
		Category:   "plumbing",
		Status:     "completed",
		ActorID:    5,
		OccurredAt: at,
	})
	require.NoError(t, err)
	require.Equal(t, "repair.request.status", conn.subject)

	var got Event
	require.NoError(t, json.Unmarshal(conn.data, &got))
	require.Equal(t, int64(12), got.RequestID)
	require.Equal(t, "completed", got.Status)
	require.True(t, at.Equal(got.OccurredAt))
}

func TestPublishErrors(t *testing.T) {
	p := &Publisher{conn: &fakeConn{err: errors.New("nats: connection closed")}}
	require.Error(t, p.Publish(context.Background(), Event{Type: TypeCreated}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Publish(ctx, Event{Type: TypeCreated}), context.Canceled)
}

func TestSubject(t *testing.T) {
	require.Equal(t, "repair.request.created", Subject(TypeCreated))
	require.Equal(t, "repair.request.other", Subject("bogus"))
	require.False(t, (&Publisher{}).IsConnected())
}

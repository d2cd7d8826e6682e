package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestEventMarshalFlattensPayload(t *testing.T) {
	ev := New("lead_qualified", "t1", "ch1", "collect_email", map[string]any{"score": 9, "goalId": "spoofed"})
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "t1", flat["tenantId"])
	assert.Equal(t, "ch1", flat["channelId"])
	assert.Equal(t, "collect_email", flat["goalId"], "fixed keys must win over payload keys")
	assert.EqualValues(t, 9, flat["score"])
	assert.NotEmpty(t, flat["timestamp"])

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ev.ID, back.ID)
	assert.Equal(t, "lead_qualified", back.Name)
	assert.True(t, ev.Timestamp.Equal(back.Timestamp))
	assert.EqualValues(t, 9, back.Payload["score"])
}

func TestDispatchSwallowsFailures(t *testing.T) {
	calls := 0
	pub := PublisherFunc(func(_ context.Context, ev Event) error {
		calls++
		if ev.Name == "bad" {
			return errors.New("bus down")
		}
		return nil
	})
	sent := Dispatch(context.Background(), pub, []Event{{Name: "ok"}, {Name: "bad"}, {Name: "ok2"}})
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, Dispatch(context.Background(), nil, []Event{{Name: "x"}}))
}

func TestNATSPublisherSubject(t *testing.T) {
	conn := &fakeConn{}
	p := newNATSPublisher(conn)
	require.NoError(t, p.Publish(context.Background(), New("goal_completed", "t", "c", "g", nil)))
	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "leadpipe.events.goal_completed", conn.subjects[0])

	p = newNATSPublisher(conn, WithSubjectPrefix("acme.crm"))
	assert.Equal(t, "acme.crm.intent", p.Subject("intent"))

	conn.err = errors.New("no responders")
	assert.Error(t, p.Publish(context.Background(), New("x", "", "", "", nil)))
	p.Close()
}

func TestMultiPublisherJoinsErrors(t *testing.T) {
	var got []string
	ok := PublisherFunc(func(_ context.Context, ev Event) error { got = append(got, ev.Name); return nil })
	bad := PublisherFunc(func(context.Context, Event) error { return errors.New("boom") })
	err := MultiPublisher{ok, bad, ok}.Publish(context.Background(), Event{Name: "e"})
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, []string{"e", "e"}, got)
}

func TestOutboxPublisherAndRelay(t *testing.T) {
	mem := store.NewInMemoryStore()
	pub := NewOutboxPublisher(mem)
	ev := New("contact_info_captured", "t1", "ch1", "", map[string]any{"email": "a@b.com"})
	require.NoError(t, pub.Publish(context.Background(), ev))
	require.NoError(t, pub.Publish(context.Background(), ev))

	due, err := mem.ClaimOutboxEvents(time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1, "same event id must dedupe")
	assert.Equal(t, "contact_info_captured", due[0].Name)
	assert.Equal(t, ev.ID, due[0].EventID)
	assert.Equal(t, "ch1", due[0].ChannelID)

	var relayed []Event
	relay := Relay(PublisherFunc(func(_ context.Context, e Event) error { relayed = append(relayed, e); return nil }))
	require.NoError(t, relay(context.Background(), due[0]))
	require.Len(t, relayed, 1)
	assert.Equal(t, ev.ID, relayed[0].ID)
	assert.Equal(t, "a@b.com", relayed[0].Payload["email"])

	assert.Error(t, relay(context.Background(), store.OutboxEvent{ID: "x", Payload: []byte("{")}))
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, LogPublisher{}.Publish(context.Background(), New("e", "", "", "", nil)))
}

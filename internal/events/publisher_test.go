package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestStreamPublisher_Publish(t *testing.T) {
	_, client := setupTestRedis(t)
	p := NewStreamPublisher(client, "phonesim:events", zap.NewNop())
	ctx := context.Background()

	err := p.Publish(ctx, Event{Type: TypeTenantSwitched, Tenant: "Carol", Detail: map[string]string{"from": ""}})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "phonesim:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	data, ok := msgs[0].Values["data"].(string)
	require.True(t, ok)
	event, err := Decode([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, TypeTenantSwitched, event.Type)
	assert.Equal(t, "Carol", event.Tenant)
	assert.False(t, event.Timestamp.IsZero())
}

type fakeMQTT struct {
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topic, f.qos, f.payload = topic, qos, payload
	return nil
}

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeMQTT{}
	p := NewMQTTPublisher(client, "phonesim/events", 1, zap.NewNop())

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeMessageMirrored, Tenant: "Bob", UID: "m1", Timestamp: ts}))
	assert.Equal(t, "phonesim/events", client.topic)
	assert.Equal(t, byte(1), client.qos)

	event, err := Decode(client.payload)
	require.NoError(t, err)
	assert.Equal(t, "m1", event.UID)
	assert.True(t, ts.Equal(event.Timestamp))
}

func TestMQTTPublisher_Error(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	p := NewMQTTPublisher(client, "t", 0, zap.NewNop())
	assert.Error(t, p.Publish(context.Background(), Event{Type: TypeMessageSent}))
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"tenant":"x"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`nope`))
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: TypeTenantRemoved}))
}

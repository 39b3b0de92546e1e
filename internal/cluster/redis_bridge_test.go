package cluster

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	roomID  string
	frame   string
	exclude string
}

func newTestBridge() *RedisBridge {
	return NewRedisBridge(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
}

func TestBridgeDeliversForeignFrames(t *testing.T) {
	bridge := newTestBridge()
	var got []delivery
	deliver := func(roomID string, frame []byte, exclude string) {
		got = append(got, delivery{roomID, string(frame), exclude})
	}

	body, err := encode("other-instance", "room-1", []byte(`{"event":"typing","data":{"userId":"u","isTyping":true}}`), "session-9")
	require.NoError(t, err)
	bridge.handle(string(body), deliver)

	require.Len(t, got, 1)
	assert.Equal(t, "room-1", got[0].roomID)
	assert.Equal(t, "session-9", got[0].exclude)
	assert.JSONEq(t, `{"event":"typing","data":{"userId":"u","isTyping":true}}`, got[0].frame)
}

func TestBridgeSkipsOwnFrames(t *testing.T) {
	bridge := newTestBridge()
	called := false

	body, err := encode(bridge.InstanceID(), "room-1", []byte(`{"event":"typing"}`), "")
	require.NoError(t, err)
	bridge.handle(string(body), func(string, []byte, string) { called = true })

	assert.False(t, called)
}

func TestBridgeIgnoresMalformedPayloads(t *testing.T) {
	bridge := newTestBridge()
	called := false
	deliver := func(string, []byte, string) { called = true }

	bridge.handle("not json", deliver)
	bridge.handle(`{"origin":"x","frame":{"event":"typing"}}`, deliver)

	assert.False(t, called)
}

func TestNewRedisBridgeDefaults(t *testing.T) {
	bridge := newTestBridge()
	assert.Equal(t, DefaultChannel, bridge.channel)
	assert.NotEmpty(t, bridge.InstanceID())
}

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSMessage_DecodeStringPayload(t *testing.T) {
	var msg WSMessage
	require.NoError(t, json.Unmarshal([]byte(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"1.2\",\"activity_timeout\":30}"}`), &msg))

	var est ConnectionEstablished
	require.NoError(t, msg.Decode(&est))
	assert.Equal(t, "1.2", est.SocketID)
	assert.Equal(t, 30, est.ActivityTimeout)
}

func TestWSMessage_DecodeObjectPayload(t *testing.T) {
	msg := WSMessage{Event: MessageTypeJobCreated, Data: json.RawMessage(`{"model":{"id":20}}`)}
	var ev JobCreatedEvent
	require.NoError(t, msg.Decode(&ev))
	assert.Equal(t, int64(20), ev.Model.ID)
}

func TestWSMessage_DecodeErrors(t *testing.T) {
	var ev JobCreatedEvent
	assert.Error(t, WSMessage{Event: MessageTypeJobCreated}.Decode(&ev))
	assert.Error(t, WSMessage{Event: MessageTypeJobCreated, Data: json.RawMessage(`"not json"`)}.Decode(&ev))
}

func TestWSMessage_IsJobCreated(t *testing.T) {
	assert.True(t, WSMessage{Event: "PrintJobCreated"}.IsJobCreated())
	assert.True(t, WSMessage{Event: ".PrintJobCreated"}.IsJobCreated())
	assert.False(t, WSMessage{Event: "PrintJobUpdated"}.IsJobCreated())
}

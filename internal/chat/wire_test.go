package chat_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/chat"
)

func TestDecodeMessageNormalizes(t *testing.T) {
	m, err := chat.DecodeMessage(json.RawMessage(`{
		"id": 42, "room_id": 10, "sender_id": 2, "receiver_id": 1,
		"message": "hello", "created_at": "2024-05-01T12:00:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "42", m.ID)
	assert.Equal(t, int64(1), m.ReceiverID)
	assert.Equal(t, "hello", m.Body)
	assert.Equal(t, chat.TypeText, m.Type)
	assert.False(t, m.IsRead, "missing is_read reads as false")
	assert.Nil(t, m.Attachment)
}

func TestDecodeMessageMedia(t *testing.T) {
	m, err := chat.DecodeMessage(json.RawMessage(`{
		"id": 43, "room_id": 10, "sender_id": 2, "receiver_id": null, "message": null,
		"type": "image", "attachment_url": "/api/uploads/a.png", "attachment_name": "a.png",
		"is_read": true, "client_token": "tok", "created_at": "2024-05-01T12:00:00Z"
	}`))
	require.NoError(t, err)

	assert.Zero(t, m.ReceiverID)
	assert.Empty(t, m.Body)
	assert.Equal(t, chat.TypeImage, m.Type)
	require.NotNil(t, m.Attachment)
	assert.Equal(t, "a.png", m.Attachment.Name)
	assert.True(t, m.IsRead)
	assert.Equal(t, "tok", m.ClientToken)
}

func TestDecodeRejectsPartialPayloads(t *testing.T) {
	_, err := chat.DecodeMessage(json.RawMessage(`{"id": 1}`))
	assert.Error(t, err)

	_, err = chat.DecodeEdit(json.RawMessage(`{"id": 42}`))
	assert.Error(t, err)
	ed, err := chat.DecodeEdit(json.RawMessage(`{"id": 42, "message": "hello there"}`))
	require.NoError(t, err)
	assert.Equal(t, chat.Edit{ID: "42", Body: "hello there"}, ed)

	_, err = chat.DecodeDeleted(json.RawMessage(`{}`))
	assert.Error(t, err)
	id, err := chat.DecodeDeleted(json.RawMessage(`{"id": 9}`))
	require.NoError(t, err)
	assert.Equal(t, "9", id)

	_, err = chat.DecodeReadReceipt(json.RawMessage(`{"room_id": 1, "reader_id": 2}`))
	assert.Error(t, err)
	_, err = chat.DecodeReadReceipt(json.RawMessage(`"nope"`))
	assert.Error(t, err)
}

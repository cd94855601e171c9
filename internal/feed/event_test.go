package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/notesync/internal/models"
)

const owner = "6a0f4bbb-3cf6-4d9c-9f37-0f0c0c1b9e3a"

func TestDecodeTriggerPayload(t *testing.T) {
	payload := `{"eventType":"UPDATE",
		"new":{"id":3,"owner_id":"` + owner + `","parent_id":1,"title":"Journal","content":null,
			"created_at":"2024-05-01T12:00:00.123456+00:00","updated_at":"2024-05-01T12:30:00+00:00"},
		"old":{"id":3,"owner_id":"` + owner + `","parent_id":null,"title":"Journal","content":null,
			"created_at":"2024-05-01T12:00:00.123456+00:00","updated_at":"2024-05-01T12:00:00.123456+00:00"}}`

	ev, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, Update, ev.Type)
	assert.False(t, ev.Partial)
	assert.Equal(t, int64(3), ev.NoteID())
	assert.Equal(t, owner, ev.OwnerID())
	require.NotNil(t, ev.New.ParentID)
	assert.Equal(t, int64(1), *ev.New.ParentID)
	assert.Nil(t, ev.Old.ParentID)
	assert.Empty(t, ev.New.Content)
	assert.True(t, ev.New.UpdatedAt.Equal(time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)))
}

func TestDecodePartialDelete(t *testing.T) {
	ev, err := Decode([]byte(`{"eventType":"DELETE","partial":true,"new":null,"old":{"id":9,"owner_id":"` + owner + `"}}`))
	require.NoError(t, err)
	assert.True(t, ev.Partial)
	assert.Nil(t, ev.New)
	assert.Equal(t, int64(9), ev.NoteID())
	assert.Equal(t, owner, ev.OwnerID())
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":            `{`,
		"unknown type":        `{"eventType":"TRUNCATE"}`,
		"insert without new":  `{"eventType":"INSERT","old":{"id":1}}`,
		"update without id":   `{"eventType":"UPDATE","new":{"title":"x"}}`,
		"delete without old":  `{"eventType":"DELETE","new":{"id":1}}`,
		"delete with zero id": `{"eventType":"DELETE","old":{"id":0}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncodeUsesTriggerShape(t *testing.T) {
	n := models.Note{ID: 4, OwnerID: owner, Title: "Diary"}
	payload, err := Encode(Deleted(n))
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"eventType":"DELETE"`)
	assert.Contains(t, string(payload), `"old":{"id":4`)
	assert.NotContains(t, string(payload), `"new"`)

	ev, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, n.ID, ev.Old.ID)
	assert.Equal(t, n.OwnerID, ev.Old.OwnerID)
	assert.Equal(t, n.Title, ev.Old.Title)
}

func TestConstructors(t *testing.T) {
	old := models.Note{ID: 1, OwnerID: owner, Title: "a"}
	n := models.Note{ID: 1, OwnerID: owner, Title: "b"}

	assert.Equal(t, Insert, Inserted(n).Type)
	up := Updated(old, n)
	assert.Equal(t, "a", up.Old.Title)
	assert.Equal(t, "b", up.New.Title)
	assert.Equal(t, int64(1), Deleted(old).NoteID())
}

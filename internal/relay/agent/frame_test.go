package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wall/internal/relay"
)

func TestEncodeReq(t *testing.T) {
	data, err := encodeReq("sub_dm", relay.Filter{
		Kinds: []int{relay.KindEncryptedDirectMsg},
		Tags:  map[string][]string{"p": {"abc"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `["REQ","sub_dm",{"kinds":[4],"#p":["abc"]}]`, string(data))
}

func TestEncodeClose(t *testing.T) {
	data, err := encodeClose("sub_dm")
	require.NoError(t, err)
	assert.JSONEq(t, `["CLOSE","sub_dm"]`, string(data))
}

func TestEncodeEvent(t *testing.T) {
	data, err := encodeEvent(relay.Event{
		ID:      "e1",
		Kind:    relay.KindTextNote,
		Content: "hello",
	})
	require.NoError(t, err)

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &parts))
	require.Len(t, parts, 2)

	var label string
	require.NoError(t, json.Unmarshal(parts[0], &label))
	assert.Equal(t, "EVENT", label)

	var event relay.Event
	require.NoError(t, json.Unmarshal(parts[1], &event))
	assert.Equal(t, "e1", event.ID)
}

func TestDecodeFrame(t *testing.T) {
	t.Run("Event", func(t *testing.T) {
		f, err := decodeFrame([]byte(`["EVENT","sub_general",{"id":"e1","kind":1,"content":"hi"}]`))
		require.NoError(t, err)
		assert.Equal(t, labelEvent, f.label)
		assert.Equal(t, "sub_general", f.subID)
		assert.Equal(t, "e1", f.event.ID)
		assert.Equal(t, relay.KindTextNote, f.event.Kind)
	})

	t.Run("EventWithoutSubID", func(t *testing.T) {
		f, err := decodeFrame([]byte(`["EVENT",{"id":"e1","kind":1}]`))
		require.NoError(t, err)
		assert.Empty(t, f.subID)
		assert.Equal(t, "e1", f.event.ID)
	})

	t.Run("EOSE", func(t *testing.T) {
		f, err := decodeFrame([]byte(`["EOSE","sub_general"]`))
		require.NoError(t, err)
		assert.Equal(t, labelEOSE, f.label)
		assert.Equal(t, "sub_general", f.subID)
	})

	t.Run("OK", func(t *testing.T) {
		f, err := decodeFrame([]byte(`["OK","e1",true,""]`))
		require.NoError(t, err)
		assert.Equal(t, labelOK, f.label)
		assert.Equal(t, "e1", f.eventID)
		assert.True(t, f.accepted)
	})

	t.Run("OKRejected", func(t *testing.T) {
		f, err := decodeFrame([]byte(`["OK","e1",false,"blocked: rate limited"]`))
		require.NoError(t, err)
		assert.False(t, f.accepted)
		assert.Equal(t, "blocked: rate limited", f.message)
	})

	t.Run("Notice", func(t *testing.T) {
		f, err := decodeFrame([]byte(`["NOTICE","slow down"]`))
		require.NoError(t, err)
		assert.Equal(t, labelNotice, f.label)
		assert.Equal(t, "slow down", f.message)
	})

	t.Run("UnknownLabelPassesThrough", func(t *testing.T) {
		f, err := decodeFrame([]byte(`["AUTH","challenge"]`))
		require.NoError(t, err)
		assert.Equal(t, "AUTH", f.label)
	})
}

func TestDecodeFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{{`},
		{name: "not an array", data: `{"type":"EVENT"}`},
		{name: "empty array", data: `[]`},
		{name: "non-string label", data: `[42]`},
		{name: "event missing payload", data: `["EVENT"]`},
		{name: "event payload not an object", data: `["EVENT","sub","nope"]`},
		{name: "eose missing sub id", data: `["EOSE"]`},
		{name: "ok missing fields", data: `["OK","e1"]`},
		{name: "ok acceptance not bool", data: `["OK","e1","yes"]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeFrame([]byte(tc.data))
			require.Error(t, err)

			var decodeErr *relay.DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}
}

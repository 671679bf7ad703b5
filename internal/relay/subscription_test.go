package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Matches(t *testing.T) {
	dm := Event{
		Kind: KindEncryptedDirectMsg,
		Tags: [][]string{{"p", "abc"}},
	}
	note := Event{Kind: KindTextNote}

	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{
			name:   "empty filter matches everything",
			filter: Filter{},
			event:  note,
			want:   true,
		},
		{
			name:   "kind match",
			filter: Filter{Kinds: []int{KindTextNote}},
			event:  note,
			want:   true,
		},
		{
			name:   "kind mismatch",
			filter: Filter{Kinds: []int{KindTextNote}},
			event:  dm,
			want:   false,
		},
		{
			name:   "kind list",
			filter: Filter{Kinds: []int{KindTextNote, KindEncryptedDirectMsg}},
			event:  dm,
			want:   true,
		},
		{
			name: "tag match",
			filter: Filter{
				Kinds: []int{KindEncryptedDirectMsg},
				Tags:  map[string][]string{"p": {"abc"}},
			},
			event: dm,
			want:  true,
		},
		{
			name: "tag mismatch",
			filter: Filter{
				Kinds: []int{KindEncryptedDirectMsg},
				Tags:  map[string][]string{"p": {"other"}},
			},
			event: dm,
			want:  false,
		},
		{
			name:   "tag filter against event without the tag",
			filter: Filter{Tags: map[string][]string{"p": {"abc"}}},
			event:  note,
			want:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(tc.event))
		})
	}
}

func TestFilter_WireEncoding(t *testing.T) {
	f := Filter{
		Kinds: []int{KindEncryptedDirectMsg},
		Tags:  map[string][]string{"p": {"abc"}},
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kinds":[4],"#p":["abc"]}`, string(data))

	var decoded Filter
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, f, decoded)
}

func TestFilter_UnmarshalIgnoresUnknownKeys(t *testing.T) {
	var f Filter
	require.NoError(t, json.Unmarshal([]byte(`{"kinds":[1],"authors":["x"],"limit":5}`), &f))

	assert.Equal(t, []int{1}, f.Kinds)
	assert.Nil(t, f.Tags)
}

func TestEvent_Tag(t *testing.T) {
	e := Event{Tags: [][]string{
		{"t", "general"},
		{"p", "abc"},
		{"t", "second"},
		{"broken"},
	}}

	assert.Equal(t, "general", e.Tag("t"), "first value wins")
	assert.Equal(t, "abc", e.Tag("p"))
	assert.Equal(t, "", e.Tag("missing"))
	assert.Equal(t, "", e.Tag("broken"))
}

func TestInbound_MarshalJSON(t *testing.T) {
	t.Run("PublicNote", func(t *testing.T) {
		in := Inbound{
			Kind:  InboundPublicNote,
			Event: Event{ID: "e1", Kind: KindTextNote, Content: "hello"},
		}

		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, "public_note", out["kind"])
		assert.NotContains(t, out, "plaintext")
		assert.NotContains(t, out, "error")
	})

	t.Run("DirectMessage", func(t *testing.T) {
		in := Inbound{
			Kind:      InboundDirectMessage,
			Event:     Event{ID: "e2", Kind: KindEncryptedDirectMsg},
			Plaintext: "secret",
		}

		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, "direct_message", out["kind"])
		assert.Equal(t, "secret", out["plaintext"])
	})

	t.Run("DecryptFailed", func(t *testing.T) {
		in := Inbound{
			Kind:  InboundDecryptFailed,
			Event: Event{ID: "e3", Kind: KindEncryptedDirectMsg},
			Err:   &DecryptError{Sender: "abc", Err: ErrNotConnected},
		}

		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, "decrypt_failed", out["kind"])
		assert.Contains(t, out["error"], "abc")
		assert.NotContains(t, out, "plaintext")
	})

	t.Run("Unhandled", func(t *testing.T) {
		in := Inbound{
			Kind:    InboundUnhandled,
			Event:   Event{ID: "e4", Kind: 30023},
			RawKind: 30023,
		}

		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, "unhandled", out["kind"])
		assert.EqualValues(t, 30023, out["raw_kind"])
	})
}

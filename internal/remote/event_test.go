package remote

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshot(t *testing.T) {
	t.Parallel()

	ev := NewSnapshot(7, "run-20260312T101500-aabbccdd", json.RawMessage(`{"phase":"done"}`))

	assert.Equal(t, TypeSnapshot, ev.Type)
	assert.Equal(t, uint64(7), ev.Seq)
	assert.Equal(t, "run-20260312T101500-aabbccdd", ev.RunID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.JSONEq(t, `{"phase":"done"}`, string(ev.Data))
	require.NoError(t, ev.Validate())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ev      Event
		wantErr string
	}{
		{name: "valid", ev: Event{Type: TypeSnapshot, Seq: 1}},
		{name: "missing type", ev: Event{Seq: 1}, wantErr: "no type"},
		{name: "zero sequence", ev: Event{Type: TypeSnapshot}, wantErr: "no sequence"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.ev.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseEvent(t *testing.T) {
	t.Parallel()

	t.Run("decodes a frame payload", func(t *testing.T) {
		t.Parallel()
		ev, err := ParseEvent([]byte(`{"type":"snapshot","seq":3,"run_id":"run-x","data":{"phase":"planning"}}`))
		require.NoError(t, err)
		assert.Equal(t, uint64(3), ev.Seq)
		assert.Equal(t, "run-x", ev.RunID)
		assert.JSONEq(t, `{"phase":"planning"}`, string(ev.Data))
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		t.Parallel()
		_, err := ParseEvent([]byte(`{"type":`))
		assert.ErrorContains(t, err, "decode stream event")
	})

	t.Run("rejects frames failing validation", func(t *testing.T) {
		t.Parallel()
		_, err := ParseEvent([]byte(`{"seq":1}`))
		assert.ErrorContains(t, err, "no type")
	})
}

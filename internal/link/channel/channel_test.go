package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lowpan/internal/core"
)

var (
	local = core.LinkAddress{0x02, 0, 0, 0, 0, 0, 0, 0x01}
	peer  = core.LinkAddress{0x02, 0, 0, 0, 0, 0, 0, 0x02}
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		in      map[string]any
		want    Options
		wantErr bool
	}{
		{name: "empty", in: nil, want: Options{}},
		{
			name: "all keys",
			in:   map[string]any{"queue": 8, "loss": 0.25, "shuffle": true, "seed": 42},
			want: Options{Queue: 8, Loss: 0.25, Shuffle: true, Seed: 42},
		},
		{
			name: "weakly typed",
			in:   map[string]any{"queue": "16", "shuffle": "true"},
			want: Options{Queue: 16, Shuffle: true},
		},
		{name: "unknown key", in: map[string]any{"latency": "1ms"}, wantErr: true},
		{name: "loss of one", in: map[string]any{"loss": 1.0}, wantErr: true},
		{name: "negative queue", in: map[string]any{"queue": -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, core.ErrConfigInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendDrain(t *testing.T) {
	e := New(local, 127, 25, Options{})
	assert.Equal(t, 127, e.MTU())
	assert.Equal(t, 25, e.HeaderReserve())
	assert.Equal(t, local, e.LinkAddress())

	frame := []byte{0x41, 1, 2, 3}
	require.NoError(t, e.Send(frame, peer))
	frame[1] = 0xff // the queued frame is a copy

	got := e.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, []byte{0x41, 1, 2, 3}, got[0].Data)
	assert.Equal(t, local, got[0].Src)
	assert.Equal(t, peer, got[0].Dst)
	assert.Empty(t, e.Drain())
}

func TestSendErrors(t *testing.T) {
	e := New(local, 20, 10, Options{Queue: 1})
	assert.Error(t, e.Send(make([]byte, 11), peer), "larger than mtu - reserve")
	require.NoError(t, e.Send(make([]byte, 10), peer))
	assert.Error(t, e.Send(make([]byte, 10), peer), "queue full")
}

func TestDrainLossAndShuffle(t *testing.T) {
	e := New(local, 127, 0, Options{Loss: 0.5, Shuffle: true, Seed: 7})
	for i := 0; i < 100; i++ {
		require.NoError(t, e.Send([]byte{byte(i)}, peer))
	}
	got := e.Drain()
	assert.Equal(t, 100, len(got)+e.Dropped())
	assert.NotZero(t, e.Dropped())
	assert.NotEmpty(t, got)

	// same seed, same outcome
	again := New(local, 127, 0, Options{Loss: 0.5, Shuffle: true, Seed: 7})
	for i := 0; i < 100; i++ {
		require.NoError(t, again.Send([]byte{byte(i)}, peer))
	}
	assert.Equal(t, got, again.Drain())
}

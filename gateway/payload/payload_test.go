package payload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/repogate/gateway/payload"
)

func TestDecode_roundtrip_binary(t *testing.T) {
	t.Parallel()

	data := []byte{0x00, 0xff, 0x10, '\n', 'a'}

	got, err := payload.Decode(payload.Encode(data))

	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecode_ignores_line_breaks(t *testing.T) {
	t.Parallel()

	got, err := payload.Decode("aGVsbG8g\nd29ybGQ=\n")

	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestDecode_invalid(t *testing.T) {
	t.Parallel()

	_, err := payload.Decode("not base64!")

	assert.ErrorContains(t, err, "decoding payload")
}

func TestDecodeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{
			name:   "multi-line message",
			in:     payload.Encode([]byte("fix: thing\n\nbody")),
			want:   "fix: thing\n\nbody",
			wantOK: true,
		},
		{
			name:   "plain text falls back",
			in:     "fix the build",
			want:   "fix the build",
			wantOK: false,
		},
		{
			name:   "prefixed query falls back",
			in:     "name:README",
			want:   "name:README",
			wantOK: false,
		},
		{
			name:   "base64 of invalid utf8 falls back",
			in:     payload.Encode([]byte{0xff, 0xfe, 0xfd}),
			want:   payload.Encode([]byte{0xff, 0xfe, 0xfd}),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := payload.DecodeText(tt.in)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

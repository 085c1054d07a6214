package cursor

import (
	"strings"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCodec(t *testing.T, key string) *Codec {
	t.Helper()
	c, err := NewCodec([]byte(key))
	require.NoError(t, err)
	return c
}

func TestRoundTripIsExact(t *testing.T) {
	c := newCodec(t, "secret")
	conv := uuid.New()
	key := model.Key{
		CreatedAt: time.Date(2025, 3, 4, 5, 6, 7, 891234000, time.UTC),
		ID:        uuid.Must(uuid.NewV7()),
	}

	raw := c.Encode(conv, key)
	got, err := c.Decode(conv, raw)
	require.NoError(t, err)
	assert.True(t, key.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, raw, c.Encode(conv, got))
}

func TestDecodeRejectsTampering(t *testing.T) {
	c := newCodec(t, "secret")
	conv := uuid.New()
	raw := c.Encode(conv, model.Key{CreatedAt: time.Now().UTC().Truncate(time.Microsecond), ID: uuid.New()})

	t.Run("other conversation", func(t *testing.T) {
		_, err := c.Decode(uuid.New(), raw)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("other key", func(t *testing.T) {
		_, err := newCodec(t, "different").Decode(conv, raw)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("flipped byte", func(t *testing.T) {
		b := []byte(raw)
		if b[5] == 'A' {
			b[5] = 'B'
		} else {
			b[5] = 'A'
		}
		_, err := c.Decode(conv, string(b))
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		for _, in := range []string{"", "not-base64!", strings.Repeat("A", 10), "2025-01-01T00:00:00Z::abc"} {
			_, err := c.Decode(conv, in)
			assert.ErrorIs(t, err, ErrInvalid, in)
		}
	})
}

func TestRandomKeyWhenEmpty(t *testing.T) {
	a, err := NewCodec(nil)
	require.NoError(t, err)
	b, err := NewCodec(nil)
	require.NoError(t, err)

	conv := uuid.New()
	raw := a.Encode(conv, model.Key{CreatedAt: time.Unix(0, 0).UTC(), ID: uuid.New()})
	_, err = b.Decode(conv, raw)
	assert.ErrorIs(t, err, ErrInvalid)
}

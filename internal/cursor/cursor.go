// Package cursor encodes message ordering keys into opaque, tamper-evident page cursors.
//
// A cursor is base64url(version | createdAt micros | id | mac) where mac is a truncated
// HMAC-SHA256 over the conversation id and the payload. Binding the conversation id into
// the mac means a cursor issued for one conversation is rejected by every other one.
package cursor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

const (
	version    = 1
	payloadLen = 1 + 8 + 16
	macLen     = 16
)

// ErrInvalid is returned for cursors that are malformed, forged, or issued for another conversation.
var ErrInvalid = errors.New("invalid cursor")

// Codec signs and verifies cursors with a secret key.
type Codec struct {
	key []byte
}

// NewCodec returns a Codec using key. An empty key is replaced by a random one, which
// keeps cursors valid only for the lifetime of this process.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate cursor key: %w", err)
		}
	}
	return &Codec{key: append([]byte(nil), key...)}, nil
}

// Encode returns the opaque cursor for key within the given conversation.
func (c *Codec) Encode(conversationID uuid.UUID, key model.Key) string {
	buf := make([]byte, payloadLen, payloadLen+macLen)
	buf[0] = version
	binary.BigEndian.PutUint64(buf[1:9], uint64(key.CreatedAt.UnixMicro()))
	copy(buf[9:], key.ID[:])
	buf = append(buf, c.mac(conversationID, buf)...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Decode verifies raw and returns the ordering key it carries.
func (c *Codec) Decode(conversationID uuid.UUID, raw string) (model.Key, error) {
	buf, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(buf) != payloadLen+macLen || buf[0] != version {
		return model.Key{}, ErrInvalid
	}
	payload, sum := buf[:payloadLen], buf[payloadLen:]
	if !hmac.Equal(sum, c.mac(conversationID, payload)) {
		return model.Key{}, ErrInvalid
	}
	var id uuid.UUID
	copy(id[:], payload[9:])
	micros := int64(binary.BigEndian.Uint64(payload[1:9]))
	return model.Key{CreatedAt: time.UnixMicro(micros).UTC(), ID: id}, nil
}

func (c *Codec) mac(conversationID uuid.UUID, payload []byte) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write(conversationID[:])
	h.Write(payload)
	return h.Sum(nil)[:macLen]
}

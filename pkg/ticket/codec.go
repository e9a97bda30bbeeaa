package ticket

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/rapportd/rapport/pkg/identity"
)

// payloadVersion tags the sealed binary record. Bump on any layout
// change; tickets sealed under another version decode to nil.
const payloadVersion = 1

// ErrNoSecret is returned when the codec is constructed without a
// ticket secret.
var ErrNoSecret = errors.New("ticket secret is empty")

// Codec seals and opens session tickets with ChaCha20-Poly1305. The
// key is derived from the configured secret; anything that fails to
// open under that key is simply not a ticket.
//
// Thread safety: safe for concurrent use.
type Codec struct {
	aead        cipher.AEAD
	standardTTL time.Duration
	writeTTL    time.Duration

	now func() time.Time
}

// NewCodec derives the sealing key from secret and returns a ready
// codec with the default issuance lifetimes.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	key := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("ticket cipher: %w", err)
	}
	return &Codec{
		aead:        aead,
		standardTTL: StandardTTL,
		writeTTL:    WriteTTL,
		now:         time.Now,
	}, nil
}

// WithTTLs overrides the issuance lifetimes. A zero duration keeps the
// corresponding default.
func (c *Codec) WithTTLs(standard, write time.Duration) *Codec {
	if standard > 0 {
		c.standardTTL = standard
	}
	if write > 0 {
		c.writeTTL = write
	}
	return c
}

// Issue seals a new ticket for id. The ticket references the identity
// by SID and qualified name only; groups are never embedded.
func (c *Codec) Issue(id *identity.UserIdentity, writeCapable bool) (*SessionTicket, error) {
	if id == nil {
		return nil, errors.New("nil identity")
	}

	ttl := c.standardTTL
	if writeCapable {
		ttl = c.writeTTL
	}

	// Millisecond precision survives the wire encoding.
	issued := c.now().UTC().Truncate(time.Millisecond)
	ref := &Reference{
		SID:          id.SID,
		Username:     id.Username,
		Domain:       id.Domain,
		WriteCapable: writeCapable,
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(ttl),
	}

	opaque, err := c.seal(encodePayload(ref))
	if err != nil {
		return nil, err
	}

	return &SessionTicket{
		Version:      payloadVersion,
		Subject:      ref.Subject(),
		SID:          ref.SID,
		IssuedAt:     ref.IssuedAt,
		ExpiresAt:    ref.ExpiresAt,
		WriteCapable: writeCapable,
		Opaque:       opaque,
	}, nil
}

// Decode opens a presented ticket. Malformed, tampered, or foreign
// input decodes to nil; there is no error to distinguish why. Expiry is
// the caller's check via Reference.Expired.
func (c *Codec) Decode(raw string) *Reference {
	if raw == "" {
		return nil
	}
	sealed, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize+c.aead.Overhead() {
		return nil
	}
	payload, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil
	}
	return decodePayload(payload)
}

func (c *Codec) seal(payload []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ticket nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, payload, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Payload layout:
//
//	[version:1][flags:1][issuedAt:int64 ms][expiresAt:int64 ms]
//	[sid:str][username:str][domain:str]
//
// where str is a big-endian uint16 length followed by the bytes.
const flagWriteCapable = 0x01

func encodePayload(ref *Reference) []byte {
	var flags byte
	if ref.WriteCapable {
		flags |= flagWriteCapable
	}

	buf := make([]byte, 0, 18+6+len(ref.SID)+len(ref.Username)+len(ref.Domain))
	buf = append(buf, payloadVersion, flags)
	buf = binary.BigEndian.AppendUint64(buf, uint64(ref.IssuedAt.UnixMilli()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(ref.ExpiresAt.UnixMilli()))
	buf = appendString(buf, ref.SID)
	buf = appendString(buf, ref.Username)
	buf = appendString(buf, ref.Domain)
	return buf
}

func decodePayload(buf []byte) *Reference {
	if len(buf) < 18 || buf[0] != payloadVersion {
		return nil
	}
	flags := buf[1]
	issuedMilli := int64(binary.BigEndian.Uint64(buf[2:10]))
	expiresMilli := int64(binary.BigEndian.Uint64(buf[10:18]))
	rest := buf[18:]

	sidStr, rest, ok := readString(rest)
	if !ok {
		return nil
	}
	username, rest, ok := readString(rest)
	if !ok {
		return nil
	}
	domain, rest, ok := readString(rest)
	if !ok || len(rest) != 0 || sidStr == "" {
		return nil
	}

	return &Reference{
		SID:          sidStr,
		Username:     username,
		Domain:       domain,
		WriteCapable: flags&flagWriteCapable != 0,
		IssuedAt:     time.UnixMilli(issuedMilli).UTC(),
		ExpiresAt:    time.UnixMilli(expiresMilli).UTC(),
	}
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, []byte, bool) {
	if len(buf) < 2 {
		return "", nil, false
	}
	n := int(binary.BigEndian.Uint16(buf))
	if len(buf) < 2+n {
		return "", nil, false
	}
	return string(buf[2 : 2+n]), buf[2+n:], true
}

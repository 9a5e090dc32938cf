package payload

import (
	"crypto/aes"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/chmike/cmac-go"
)

var ErrAuthentication = errors.New("message authentication failed")

// Authenticator appends and checks a truncated AES-CMAC tag.
type Authenticator struct {
	key    []byte
	tagLen int
}

// NewAuthenticator accepts an AES-128/192/256 key and a tag length between
// 4 and 16 bytes.
func NewAuthenticator(key []byte, tagLen int) (*Authenticator, error) {
	if tagLen < 4 || tagLen > aes.BlockSize {
		return nil, fmt.Errorf("tag length %d outside [4,%d]", tagLen, aes.BlockSize)
	}
	if _, err := cmac.New(aes.NewCipher, key); err != nil {
		return nil, fmt.Errorf("cmac key: %w", err)
	}
	return &Authenticator{key: append([]byte(nil), key...), tagLen: tagLen}, nil
}

func (a *Authenticator) TagLen() int {
	return a.tagLen
}

func (a *Authenticator) tag(data []byte) []byte {
	// the key was validated in NewAuthenticator
	h, _ := cmac.New(aes.NewCipher, a.key)
	h.Write(data)
	return h.Sum(nil)[:a.tagLen]
}

// Sign returns data followed by its tag.
func (a *Authenticator) Sign(data []byte) []byte {
	out := make([]byte, 0, len(data)+a.tagLen)
	out = append(out, data...)
	return append(out, a.tag(data)...)
}

// Verify checks the trailing tag of msg and returns the data before it.
func (a *Authenticator) Verify(msg []byte) ([]byte, error) {
	if len(msg) < a.tagLen {
		return nil, ErrAuthentication
	}
	data := msg[:len(msg)-a.tagLen]
	if subtle.ConstantTimeCompare(a.tag(data), msg[len(data):]) != 1 {
		return nil, ErrAuthentication
	}
	return data, nil
}

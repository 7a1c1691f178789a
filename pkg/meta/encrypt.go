// pkg/meta/encrypt.go

package meta

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

type aesEncryptor struct {
	aead cipher.AEAD
}

// NewSalt returns a random hex salt for DeriveKey.
func NewSalt() string {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		panic(err)
	}
	return hex.EncodeToString(salt)
}

// DeriveKey derives an AES-256 key from a passphrase with PBKDF2.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required")
	}
	rawSalt, err := hex.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("invalid salt: %s", err)
	}
	return pbkdf2.Key([]byte(passphrase), rawSalt, 10000, 32, sha256.New), nil
}

// NewAESEncryptor seals data with AES-GCM; the nonce is stored ahead of the ciphertext.
func NewAESEncryptor(key []byte) (Encryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aesEncryptor{aead}, nil
}

func (e *aesEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *aesEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(ciphertext) < ns {
		return nil, errors.New("ciphertext too short")
	}
	return e.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
}

// encrypted seals selected byte fields of records at rest. Filters on
// those fields can not match.
type encrypted struct {
	Store
	enc    Encryptor
	fields []string
}

// NewEncrypted wraps s so that the byte fields named by fields are encrypted.
func NewEncrypted(s Store, enc Encryptor, fields ...string) Store {
	return &encrypted{s, enc, fields}
}

func (e *encrypted) seal(r Record) (Record, error) {
	var out Record
	for _, f := range e.fields {
		b, ok := r[f].([]byte)
		if !ok {
			continue
		}
		if out == nil {
			out = r.Clone()
		}
		c, err := e.enc.Encrypt(b)
		if err != nil {
			return nil, errors.Wrapf(err, "encrypt %s", f)
		}
		out[f] = c
	}
	if out == nil {
		return r, nil
	}
	return out, nil
}

func (e *encrypted) open(r Record) error {
	for _, f := range e.fields {
		b, ok := r[f].([]byte)
		if !ok {
			continue
		}
		p, err := e.enc.Decrypt(b)
		if err != nil {
			return errors.Wrapf(err, "decrypt %s", f)
		}
		r[f] = p
	}
	return nil
}

func (e *encrypted) InsertRecord(ctx context.Context, coll Collection, r Record) error {
	sealed, err := e.seal(r)
	if err != nil {
		return err
	}
	return e.Store.InsertRecord(ctx, coll, sealed)
}

func (e *encrypted) UpdateOne(ctx context.Context, coll Collection, f Filter, set Record) (bool, error) {
	sealed, err := e.seal(set)
	if err != nil {
		return false, err
	}
	return e.Store.UpdateOne(ctx, coll, f, sealed)
}

func (e *encrypted) FindOne(ctx context.Context, coll Collection, f Filter) (Record, error) {
	r, err := e.Store.FindOne(ctx, coll, f)
	if err != nil {
		return nil, err
	}
	return r, e.open(r)
}

func (e *encrypted) FindMany(ctx context.Context, coll Collection, f Filter, opts *FindOptions) ([]Record, error) {
	rs, err := e.Store.FindMany(ctx, coll, f, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range rs {
		if err = e.open(r); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

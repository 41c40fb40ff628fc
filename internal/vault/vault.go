// Package vault implements the encrypted-at-rest secret container.
//
// A vault file is a self-describing binary envelope: a fixed header
// carrying the format version and argon2id cost parameters, followed by
// length-framed salt, nonce, and ciphertext sections. The ciphertext is
// AES-256-GCM over a JSON mapping of secret names to values, with the
// header bound as associated data so tampering with the cost parameters
// or salt fails authentication the same way a wrong passphrase does.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"

	"github.com/lazylocker/lazylocker/internal/secmem"
)

// Errors returned by vault operations.
var (
	// ErrAuthenticationFailed covers both a wrong passphrase and a
	// corrupted or tampered vault. The two cases are deliberately
	// indistinguishable to the caller.
	ErrAuthenticationFailed = errors.New("vault: authentication failed")

	// ErrNotVault indicates the file is not a vault at all (bad magic or
	// unsupported format version).
	ErrNotVault = errors.New("vault: not a vault file")
)

var magic = [4]byte{'L', 'L', 'V', '1'}

const (
	formatVersion = 1

	keySize   = 32
	saltSize  = 16
	nonceSize = 12
)

// Params holds the argon2id cost parameters recorded in the vault header.
// They are read back from the file on unlock, so a vault written with
// different costs remains openable.
type Params struct {
	// Time is the number of argon2 passes.
	Time uint32
	// MemoryKiB is the argon2 memory cost in KiB.
	MemoryKiB uint32
	// Threads is the argon2 parallelism degree.
	Threads uint8
}

// DefaultParams are the cost parameters for newly sealed vaults:
// 3 passes over 64 MiB with 4 lanes, tuned for interactive unlock.
var DefaultParams = Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}

// envelope is the parsed on-disk representation.
type envelope struct {
	params     Params
	salt       []byte
	nonce      []byte
	ciphertext []byte
	// header holds the raw bytes preceding the ciphertext section; it is
	// the AEAD associated data.
	header []byte
}

// Open reads the vault file at path and decrypts it with the given
// passphrase. On success it returns the secret mapping; the derived key
// is destroyed before Open returns and is never cached.
//
// A wrong passphrase and a corrupted or tampered vault both return
// ErrAuthenticationFailed. I/O failures unrelated to authentication are
// returned as-is. The vault file is never modified.
func Open(path string, passphrase []byte) (map[string][]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase, env.salt, env.params)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := newAEAD(key.Bytes())
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, env.nonce, env.ciphertext, env.header)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	defer secmem.Zero(plaintext)

	var decoded map[string]string
	if err := json.Unmarshal(plaintext, &decoded); err != nil {
		// Authenticated but undecodable: the vault was written by
		// something that is not us.
		return nil, fmt.Errorf("decode vault payload: %w", err)
	}

	secrets := make(map[string][]byte, len(decoded))
	for name, value := range decoded {
		secrets[name] = []byte(value)
	}
	return secrets, nil
}

// Seal encrypts the secret mapping with the given passphrase and writes
// it to path atomically (temp file + rename) with mode 0600. A fresh salt
// and nonce are generated on every call.
func Seal(path string, secrets map[string][]byte, passphrase []byte, params Params) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	encoded := make(map[string]string, len(secrets))
	for name, value := range secrets {
		encoded[name] = string(value)
	}
	plaintext, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("encode vault payload: %w", err)
	}
	defer secmem.Zero(plaintext)

	key, err := deriveKey(passphrase, salt, params)
	if err != nil {
		return err
	}
	defer key.Close()

	aead, err := newAEAD(key.Bytes())
	if err != nil {
		return err
	}

	header := encodeHeader(params, salt, nonce)
	ciphertext := aead.Seal(nil, nonce, plaintext, header)

	var buf bytes.Buffer
	buf.Write(header)
	binary.Write(&buf, binary.BigEndian, uint32(len(ciphertext)))
	buf.Write(ciphertext)

	return writeAtomic(path, buf.Bytes())
}

// deriveKey runs argon2id and places the resulting key in a locked
// buffer. The caller must Close it.
func deriveKey(passphrase, salt []byte, params Params) (*secmem.Buffer, error) {
	if params.Time == 0 || params.MemoryKiB == 0 || params.Threads == 0 {
		return nil, fmt.Errorf("%w: zero KDF parameter", ErrNotVault)
	}
	raw := argon2.IDKey(passphrase, salt, params.Time, params.MemoryKiB, params.Threads, keySize)
	return secmem.NewBufferFromBytes(raw)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return aead, nil
}

// encodeHeader serializes the fixed header and the length-framed salt and
// nonce sections. The same bytes are bound as AEAD associated data.
func encodeHeader(params Params, salt, nonce []byte) []byte {
	var buf bytes.Buffer
	buf.Write(magic[:])
	binary.Write(&buf, binary.BigEndian, uint16(formatVersion))
	binary.Write(&buf, binary.BigEndian, params.Time)
	binary.Write(&buf, binary.BigEndian, params.MemoryKiB)
	buf.WriteByte(params.Threads)
	binary.Write(&buf, binary.BigEndian, uint16(len(salt)))
	buf.Write(salt)
	binary.Write(&buf, binary.BigEndian, uint16(len(nonce)))
	buf.Write(nonce)
	return buf.Bytes()
}

// parseEnvelope splits a raw vault file into its sections. Files that do
// not carry the magic or version are ErrNotVault; structurally truncated
// files are treated as corruption and reported as authentication failure,
// matching the uniform-error contract.
func parseEnvelope(raw []byte) (*envelope, error) {
	r := bytes.NewReader(raw)

	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil || m != magic {
		return nil, ErrNotVault
	}
	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, ErrAuthenticationFailed
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrNotVault, version)
	}

	var env envelope
	if err := binary.Read(r, binary.BigEndian, &env.params.Time); err != nil {
		return nil, ErrAuthenticationFailed
	}
	if err := binary.Read(r, binary.BigEndian, &env.params.MemoryKiB); err != nil {
		return nil, ErrAuthenticationFailed
	}
	if err := binary.Read(r, binary.BigEndian, &env.params.Threads); err != nil {
		return nil, ErrAuthenticationFailed
	}

	var err error
	if env.salt, err = readFramed16(r); err != nil {
		return nil, ErrAuthenticationFailed
	}
	if env.nonce, err = readFramed16(r); err != nil {
		return nil, ErrAuthenticationFailed
	}

	headerLen := len(raw) - r.Len()
	env.header = raw[:headerLen]

	var ctLen uint32
	if err := binary.Read(r, binary.BigEndian, &ctLen); err != nil {
		return nil, ErrAuthenticationFailed
	}
	if uint32(r.Len()) != ctLen {
		return nil, ErrAuthenticationFailed
	}
	env.ciphertext = raw[len(raw)-r.Len():]

	return &env, nil
}

func readFramed16(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("create temp vault: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp vault: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp vault: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace vault: %w", err)
	}
	return nil
}

package credential

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

const (
	Plaintext Kind = iota + 1
	Encrypted
	Digest
	Bcrypt
	Delegated
)

const (
	DefaultBcryptCost = 10
	// bcrypt ignores input past this length, longer secrets are
	// pre-hashed so every byte counts
	bcryptMaxInput = 72

	// PBKDF2 parameters of the delegated format; stored hashes carry their
	// own iteration count so changing the default keeps old ones valid.
	DefaultIterations = 25000
	delegatedSaltLen  = 32
	delegatedKeyLen   = 512
	delegatedID       = "pbkdf2-sha256"
	maxIterations     = 10_000_000

	nonceLen = 24
)

type (
	Kind uint8

	// Strategy is the (encode, verify) pair selected by Kind.
	// The zero value is not usable, build one with New.
	Strategy struct {
		kind       Kind
		key        *Key
		cost       int
		iterations int
		random     io.Reader
	}

	Option func(*Strategy)
)

var kindNames = map[Kind]string{
	Plaintext: "plaintext",
	Encrypted: "encryption",
	Digest:    "md5",
	Bcrypt:    "bcrypt",
	Delegated: "delegated",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, UnknownKind{Name: name}
}

func WithKey(k *Key) Option {
	return func(s *Strategy) { s.key = k }
}

func WithBcryptCost(cost int) Option {
	return func(s *Strategy) { s.cost = cost }
}

func WithIterations(n int) Option {
	return func(s *Strategy) { s.iterations = n }
}

func WithRandom(r io.Reader) Option {
	return func(s *Strategy) { s.random = r }
}

func New(kind Kind, opts ...Option) (Strategy, error) {
	s := Strategy{
		kind:       kind,
		cost:       DefaultBcryptCost,
		iterations: DefaultIterations,
		random:     rand.Reader,
	}
	for _, o := range opts {
		o(&s)
	}
	switch kind {
	case Plaintext, Digest, Delegated:
	case Encrypted:
		if s.key == nil {
			return Strategy{}, MissingKey{Kind: kind}
		}
	case Bcrypt:
		if s.cost < bcrypt.MinCost || s.cost > bcrypt.MaxCost {
			return Strategy{}, fmt.Errorf("credential: bcrypt cost %v outside [%v, %v]", s.cost, bcrypt.MinCost, bcrypt.MaxCost)
		}
	default:
		return Strategy{}, UnknownKind{Name: kind.String()}
	}
	if s.iterations < 1 || s.iterations > maxIterations {
		return Strategy{}, fmt.Errorf("credential: invalid pbkdf2 iteration count %v", s.iterations)
	}
	return s, nil
}

func (s Strategy) Kind() Kind { return s.kind }

// Encode produces the value to store for raw.
func (s Strategy) Encode(raw string) (string, error) {
	switch s.kind {
	case Plaintext:
		return raw, nil
	case Encrypted:
		return s.seal(raw)
	case Digest:
		sum := md5.Sum([]byte(raw))
		return hex.EncodeToString(sum[:]), nil
	case Bcrypt:
		buf, err := bcrypt.GenerateFromPassword(bcryptInput(raw), s.cost)
		if err != nil {
			return "", fmt.Errorf("unable to hash secret with bcrypt, cause %w", err)
		}
		return string(buf), nil
	case Delegated:
		return s.derive(raw)
	}
	return "", UnknownKind{Name: s.kind.String()}
}

// Verify reports whether raw matches stored. Malformed stored values never match.
func (s Strategy) Verify(raw, stored string) bool {
	switch s.kind {
	case Plaintext:
		return raw == stored
	case Encrypted:
		plain, err := s.open(stored)
		if err != nil {
			return false
		}
		return subtle.ConstantTimeCompare(plain, []byte(raw)) == 1
	case Digest:
		sum := md5.Sum([]byte(raw))
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(strings.ToLower(stored))) == 1
	case Bcrypt:
		return bcrypt.CompareHashAndPassword([]byte(stored), bcryptInput(raw)) == nil
	case Delegated:
		p, err := parseDelegated(stored)
		if err != nil {
			return false
		}
		computed := pbkdf2.Key([]byte(raw), p.salt, p.iterations, len(p.hash), sha256.New)
		return subtle.ConstantTimeCompare(computed, p.hash) == 1
	}
	return false
}

// Inspect returns MalformedCredential when stored cannot be a value produced
// by this strategy. It is only used to tell apart rejection reasons in logs.
func (s Strategy) Inspect(stored string) error {
	bad := func(reason string) error { return MalformedCredential{Kind: s.kind, Reason: reason} }
	switch s.kind {
	case Plaintext:
		return nil
	case Encrypted:
		if _, err := s.open(stored); err != nil {
			return bad(err.Error())
		}
	case Digest:
		if len(stored) != hex.EncodedLen(md5.Size) {
			return bad("unexpected digest length")
		}
		if _, err := hex.DecodeString(stored); err != nil {
			return bad("not hex encoded")
		}
	case Bcrypt:
		if _, err := bcrypt.Cost([]byte(stored)); err != nil {
			return bad(err.Error())
		}
	case Delegated:
		if _, err := parseDelegated(stored); err != nil {
			return bad(err.Error())
		}
	}
	return nil
}

// bcryptInput leaves short secrets untouched, so hashes made by other bcrypt
// implementations still verify, and maps longer ones to base64(sha256(raw)).
func bcryptInput(raw string) []byte {
	if len(raw) <= bcryptMaxInput {
		return []byte(raw)
	}
	sum := sha256.Sum256([]byte(raw))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func (s Strategy) seal(raw string) (string, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(s.random, nonce[:]); err != nil {
		return "", fmt.Errorf("unable to read nonce, cause %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(raw), &nonce, (*[32]byte)(s.key))
	return base64.StdEncoding.EncodeToString(box), nil
}

func (s Strategy) open(stored string) ([]byte, error) {
	buf, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, errors.New("invalid base64")
	}
	if len(buf) < nonceLen+secretbox.Overhead {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [nonceLen]byte
	copy(nonce[:], buf[:nonceLen])
	plain, ok := secretbox.Open(nil, buf[nonceLen:], &nonce, (*[32]byte)(s.key))
	if !ok {
		return nil, errors.New("authentication failed")
	}
	return plain, nil
}

type delegatedHash struct {
	iterations int
	salt       []byte
	hash       []byte
}

func (s Strategy) derive(raw string) (string, error) {
	salt := make([]byte, delegatedSaltLen)
	if _, err := io.ReadFull(s.random, salt); err != nil {
		return "", fmt.Errorf("unable to read salt, cause %w", err)
	}
	hash := pbkdf2.Key([]byte(raw), salt, s.iterations, delegatedKeyLen, sha256.New)
	return fmt.Sprintf("$%v$i=%d$%v$%v", delegatedID, s.iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

func parseDelegated(stored string) (delegatedHash, error) {
	var out delegatedHash
	parts := strings.Split(stored, "$")
	if len(parts) != 5 || parts[0] != "" {
		return out, errors.New("invalid format")
	}
	if parts[1] != delegatedID {
		return out, fmt.Errorf("unsupported algorithm %q", parts[1])
	}
	if !strings.HasPrefix(parts[2], "i=") {
		return out, errors.New("missing iteration count")
	}
	n, err := strconv.Atoi(strings.TrimPrefix(parts[2], "i="))
	if err != nil || n < 1 || n > maxIterations {
		return out, errors.New("invalid iteration count")
	}
	out.iterations = n
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[3]); err != nil || len(out.salt) == 0 {
		return out, errors.New("invalid salt")
	}
	if out.hash, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(out.hash) == 0 {
		return out, errors.New("invalid hash")
	}
	return out, nil
}

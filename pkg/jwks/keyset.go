package jwks

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"sort"
	"strings"
	"time"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// Supported values of the "alg" member. An empty alg is treated as RS256.
const (
	AlgorithmRS256 = "RS256"
	AlgorithmRS384 = "RS384"
	AlgorithmRS512 = "RS512"
)

const (
	keyTypeRSA   = "RSA"
	usageSig     = "sig"
	usageEncrypt = "enc"
)

// JSONWebKey is one RSA verification key. Values obtained from a
// [KeySet] share their byte slices with the snapshot and must be treated
// as read-only.
type JSONWebKey struct {
	KeyID          string
	KeyType        string
	Algorithm      string
	Usage          string
	Modulus        []byte
	PublicExponent []byte

	publicKey *rsa.PublicKey
}

// PublicKey returns the RSA public key built from the modulus and
// exponent.
func (k JSONWebKey) PublicKey() *rsa.PublicKey {
	return k.publicKey
}

// SigningAlgorithm returns the declared alg, defaulting to RS256.
func (k JSONWebKey) SigningAlgorithm() string {
	if k.Algorithm == "" {
		return AlgorithmRS256
	}
	return k.Algorithm
}

// wireKey is the JWKS wire representation of a key.
type wireKey struct {
	Alg string `json:"alg,omitempty"`
	E   string `json:"e"`
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	Use string `json:"use,omitempty"`
}

// wireSet is the JWKS document. Source and FetchedAt are extensions
// written only when a snapshot is persisted; providers never send them.
type wireSet struct {
	Keys      []wireKey  `json:"keys"`
	Source    string     `json:"x-source,omitempty"`
	FetchedAt *time.Time `json:"x-fetched-at,omitempty"`
}

// KeySet is an immutable, ordered set of verification keys indexed by
// key ID. The zero value and a nil *KeySet are empty sets.
type KeySet struct {
	keys      []JSONWebKey
	index     map[string]int
	source    string
	fetchedAt time.Time
}

// ParseKeySet decodes a JWKS document. It fails with
// [sserr.CodeKeySetMalformed] if the document is not valid JSON, holds no
// signing keys, or contains any signing key that cannot be converted:
// missing or duplicate kid, a key type other than RSA, an unsupported
// alg, or a modulus or exponent that is not valid base64url. Keys
// declared for encryption ("use":"enc") are not verification keys and
// are left out.
func ParseKeySet(data []byte) (*KeySet, error) {
	var doc wireSet
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeySetMalformed, "jwks: key set is not valid JSON")
	}

	set := &KeySet{
		keys:   make([]JSONWebKey, 0, len(doc.Keys)),
		index:  make(map[string]int, len(doc.Keys)),
		source: doc.Source,
	}
	if doc.FetchedAt != nil {
		set.fetchedAt = doc.FetchedAt.UTC()
	}

	for i, wk := range doc.Keys {
		if wk.Use == usageEncrypt {
			continue
		}
		key, err := convertKey(wk)
		if err != nil {
			return nil, err.WithDetail("index", i)
		}
		if _, dup := set.index[key.KeyID]; dup {
			return nil, sserr.Newf(sserr.CodeKeySetMalformed,
				"jwks: duplicate key id %q", key.KeyID).WithDetail("kid", key.KeyID)
		}
		set.index[key.KeyID] = len(set.keys)
		set.keys = append(set.keys, key)
	}

	if len(set.keys) == 0 {
		return nil, sserr.New(sserr.CodeKeySetMalformed, "jwks: key set contains no signing keys")
	}
	return set, nil
}

func convertKey(wk wireKey) (JSONWebKey, *sserr.Error) {
	if wk.Kid == "" {
		return JSONWebKey{}, sserr.New(sserr.CodeKeySetMalformed, "jwks: key has no kid")
	}
	malformed := func(format string, args ...any) *sserr.Error {
		return sserr.Newf(sserr.CodeKeySetMalformed, format, args...).WithDetail("kid", wk.Kid)
	}

	if wk.Kty != keyTypeRSA {
		return JSONWebKey{}, malformed("jwks: key %q has unsupported type %q", wk.Kid, wk.Kty)
	}
	switch wk.Alg {
	case "", AlgorithmRS256, AlgorithmRS384, AlgorithmRS512:
	default:
		return JSONWebKey{}, malformed("jwks: key %q has unsupported alg %q", wk.Kid, wk.Alg)
	}
	if wk.Use != "" && wk.Use != usageSig {
		return JSONWebKey{}, malformed("jwks: key %q has unsupported use %q", wk.Kid, wk.Use)
	}

	n, err := decodeSegment(wk.N)
	if err != nil || len(n) == 0 {
		return JSONWebKey{}, malformed("jwks: key %q has a malformed modulus", wk.Kid)
	}
	e, err := decodeSegment(wk.E)
	if err != nil || len(e) == 0 {
		return JSONWebKey{}, malformed("jwks: key %q has a malformed exponent", wk.Kid)
	}
	exp := new(big.Int).SetBytes(e)
	if exp.BitLen() > 31 || exp.Int64() < 2 {
		return JSONWebKey{}, malformed("jwks: key %q has an out of range exponent", wk.Kid)
	}

	return JSONWebKey{
		KeyID:          wk.Kid,
		KeyType:        wk.Kty,
		Algorithm:      wk.Alg,
		Usage:          wk.Use,
		Modulus:        n,
		PublicExponent: e,
		publicKey: &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(exp.Int64()),
		},
	}, nil
}

// decodeSegment decodes base64url, tolerating trailing padding.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Lookup returns the key with the given kid.
func (s *KeySet) Lookup(kid string) (JSONWebKey, bool) {
	if s == nil {
		return JSONWebKey{}, false
	}
	i, ok := s.index[kid]
	if !ok {
		return JSONWebKey{}, false
	}
	return s.keys[i], true
}

// Len returns the number of keys.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns a copy of the keys in document order.
func (s *KeySet) Keys() []JSONWebKey {
	if s == nil {
		return nil
	}
	out := make([]JSONWebKey, len(s.keys))
	copy(out, s.keys)
	return out
}

// KeyIDs returns the sorted key IDs.
func (s *KeySet) KeyIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.keys))
	for _, k := range s.keys {
		ids = append(ids, k.KeyID)
	}
	sort.Strings(ids)
	return ids
}

// Source returns the discovery URL the set was fetched from, if known.
func (s *KeySet) Source() string {
	if s == nil {
		return ""
	}
	return s.source
}

// FetchedAt returns when the set was fetched, or the zero time.
func (s *KeySet) FetchedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.fetchedAt
}

// withOrigin returns a copy of s stamped with its source and fetch time.
func (s *KeySet) withOrigin(source string, at time.Time) *KeySet {
	return &KeySet{keys: s.keys, index: s.index, source: source, fetchedAt: at.UTC()}
}

// MarshalJSON encodes the set as a JWKS document, including the source
// and fetch time so a persisted snapshot can be restored faithfully.
func (s *KeySet) MarshalJSON() ([]byte, error) {
	doc := wireSet{Keys: make([]wireKey, 0, s.Len())}
	if s != nil {
		for _, k := range s.keys {
			doc.Keys = append(doc.Keys, wireKey{
				Alg: k.Algorithm,
				E:   base64.RawURLEncoding.EncodeToString(k.PublicExponent),
				Kid: k.KeyID,
				Kty: k.KeyType,
				N:   base64.RawURLEncoding.EncodeToString(k.Modulus),
				Use: k.Usage,
			})
		}
		doc.Source = s.source
		if !s.fetchedAt.IsZero() {
			at := s.fetchedAt
			doc.FetchedAt = &at
		}
	}
	return json.Marshal(doc)
}

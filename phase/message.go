package phase

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/xaynetwork/xaynet/crypto"
)

// DecodeMessage reads and JSON-decodes one message body into T,
// grounded on the teacher's zipnet.DecodeMessage[T] (zipnet/message.go)
// generic request-decoding helper.
func DecodeMessage[T any](r io.Reader) (*T, error) {
	var msg T
	if err := json.NewDecoder(r).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Signed wraps a message with the public key and signature that
// authenticate it, generalized from the teacher's protocol.Signed[T]
// (protocol/message.go) to this coordinator's message kinds. The
// signature covers the serialized object concatenated with the public
// key, preventing a signature from one object being replayed against a
// different one signed by the same key.
type Signed[T any] struct {
	PublicKey crypto.PublicKey `json:"public_key"`
	Signature crypto.Signature `json:"signature"`
	Object    *T               `json:"object"`
}

// NewSigned signs obj with sk and wraps it.
func NewSigned[T any](sk crypto.PrivateKey, obj *T) (*Signed[T], error) {
	pk, err := sk.PublicKey()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(sk, append(data, pk...))
	if err != nil {
		return nil, err
	}
	return &Signed[T]{PublicKey: pk, Signature: sig, Object: obj}, nil
}

// Recover verifies the signature and returns the object and signer.
func (s *Signed[T]) Recover() (*T, crypto.PublicKey, error) {
	if s.Object == nil {
		return nil, nil, errors.New("phase: signed message has no object")
	}
	data, err := json.Marshal(s.Object)
	if err != nil {
		return nil, nil, err
	}
	if !s.Signature.Verify(s.PublicKey, append(data, s.PublicKey...)) {
		return nil, nil, errors.New("phase: signature invalid")
	}
	return s.Object, s.PublicKey, nil
}

// SumMessage is a sum participant's Sum-phase submission (spec.md
// §4.6's admission table): its ephemeral exchange key plus the
// role-eligibility signature proving it is entitled to the sum role.
type SumMessage struct {
	ExchangeKey []byte    `json:"exchange_key"`
	RoleSig     crypto.Signature `json:"role_sig"`
}

// UpdateMessage is an update participant's Update-phase submission: a
// masked model, its scalar weight, and one encrypted mask-seed share
// per sum participant captured at the start of Update.
type UpdateMessage struct {
	MaskedModel    []string          `json:"masked_model"` // decimal-string mask.Vector encoding
	Scalar         float64           `json:"scalar"`
	LocalSeedDict  map[string][]byte `json:"local_seed_dict"` // pk_s_sum (hex) -> sealed box
	RoleSig        crypto.Signature  `json:"role_sig"`
}

// Sum2Message is a sum participant's reconstructed unmask-mask,
// submitted during Sum2.
type Sum2Message struct {
	ReconstructedMask []string `json:"reconstructed_mask"` // decimal-string mask.Vector encoding
	RoleSig           crypto.Signature `json:"role_sig"`
}

// RoundInfo is the read-only poll response of spec.md §6's "Round
// information endpoint".
type RoundInfo struct {
	Round        uint64    `json:"round"`
	Phase        string    `json:"phase"`
	Seed         []byte    `json:"seed"`
	ModelLength  int       `json:"model_length"`
	Thresholds   Thresholds `json:"thresholds"`
	DeadlineAt   int64     `json:"deadline_at"` // unix nanos
}

package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const coseSign1Tag = 18

// Sign1 is a decoded COSE_Sign1 message: [protected, unprotected, payload, signature].
type Sign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// DecodeSign1 accepts both the untagged form the NSM emits and the tag-18 form.
func DecodeSign1(coseBytes []byte) (*Sign1, error) {
	var tagged cbor.RawTag
	if err := cbor.Unmarshal(coseBytes, &tagged); err == nil {
		if tagged.Number != coseSign1Tag {
			return nil, fmt.Errorf("unexpected CBOR tag %d, want COSE_Sign1 (%d)", tagged.Number, coseSign1Tag)
		}
		coseBytes = tagged.Content
	}

	var msg Sign1
	if err := cbor.Unmarshal(coseBytes, &msg); err != nil {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: %w", err)
	}
	if len(msg.Protected) == 0 {
		return nil, fmt.Errorf("invalid protected headers")
	}
	if len(msg.Payload) == 0 {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}
	if len(msg.Signature) == 0 {
		return nil, fmt.Errorf("invalid signature")
	}
	return &msg, nil
}

// Algorithm returns the alg (label 1) from the protected header.
func (m *Sign1) Algorithm() (int64, error) {
	var headers map[int64]any
	if err := cbor.Unmarshal(m.Protected, &headers); err != nil {
		return 0, fmt.Errorf("decode protected headers: %w", err)
	}
	switch alg := headers[1].(type) {
	case int64:
		return alg, nil
	case uint64:
		return int64(alg), nil
	default:
		return 0, fmt.Errorf("protected headers carry no algorithm")
	}
}

// ToBeSigned returns the Sig_structure the signature covers, with empty external data.
func (m *Sign1) ToBeSigned() ([]byte, error) {
	return cbor.Marshal([]any{"Signature1", m.Protected, []byte{}, m.Payload})
}

// ExtractCOSEPayload returns the payload of a COSE_Sign1 message.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	msg, err := DecodeSign1(coseBytes)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

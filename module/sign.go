package module

import (
	"context"
	"encoding/base64"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/objects"
)

// SignOperation is a multi-part signature in progress. It signs with
// the login context captured at creation.
type SignOperation struct {
	desc  *mechanism.Descriptor
	key   *objects.CryptoObject
	login *LoginCtx
	data  []byte
	done  bool
}

// NewSignOperation starts a signature with key. The operator must be
// logged in, and the mechanism must be one the key allows.
func NewSignOperation(desc *mechanism.Descriptor, key *objects.CryptoObject, login *LoginCtx) (*SignOperation, error) {
	if !login.CanRun(Operator) {
		return nil, ckr.NotLoggedInAs("NewSignOperation", Operator.String())
	}
	if key.Ref.Kind != objects.PrivateKey {
		return nil, ckr.New("NewSignOperation", key.Ref.Kind.String()+" cannot sign", ckr.InvalidMechanismForKey)
	}
	if err := desc.ValidateAgainstKey(key.Mechanisms); err != nil {
		return nil, err
	}
	return &SignOperation{
		desc:  desc,
		key:   key,
		login: login.Clone(),
	}, nil
}

// Update appends data to the message.
func (op *SignOperation) Update(data []byte) error {
	if op.done {
		return ckr.New("SignOperation.Update", "operation finished", ckr.OperationNotInitialized)
	}
	op.data = append(op.data, data...)
	return nil
}

// TheoreticalSize is the length of the signature Final returns.
func (op *SignOperation) TheoreticalSize() int {
	return op.desc.SignatureSize(op.key.Size)
}

// Final signs the message on the NetHSM. ECDSA signatures come back as
// r||s, each component as wide as the curve. The operation cannot be
// used afterwards, whatever the result.
func (op *SignOperation) Final(ctx context.Context) ([]byte, error) {
	if op.done {
		return nil, ckr.New("SignOperation.Final", "operation finished", ckr.OperationNotInitialized)
	}
	op.done = true

	message := base64.StdEncoding.EncodeToString(op.desc.Prepare(op.data, op.key.Size))
	var encoded string
	err := op.login.Run(ctx, Operator, func(ctx context.Context, client *nethsm.Client) error {
		var err error
		encoded, err = client.Sign(ctx, op.key.Ref.ID, op.desc.SignMode, message)
		return err
	})
	if err != nil {
		return nil, err
	}
	signature, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ckr.Wrap("SignOperation.Final", err, ckr.BackendError)
	}
	if op.desc.Family == mechanism.FamilyECDSA {
		return RawECDSASignature(signature, op.desc.OutputSize(op.key.Size))
	}
	return signature, nil
}

// RawECDSASignature converts a DER ECDSA-Sig-Value into r||s, left
// padding each component to width bytes.
func RawECDSASignature(der []byte, width int) ([]byte, error) {
	r, s := new(big.Int), new(big.Int)
	var inner cryptobyte.String
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, ckr.New("RawECDSASignature", "malformed DER signature", ckr.InvalidData)
	}
	if r.Sign() < 0 || s.Sign() < 0 || len(r.Bytes()) > width || len(s.Bytes()) > width {
		return nil, ckr.New("RawECDSASignature", "signature component wider than the curve", ckr.InvalidData)
	}
	out := make([]byte, 2*width)
	r.FillBytes(out[:width])
	s.FillBytes(out[width:])
	return out, nil
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vote defines the fast-finality vote messages exchanged by
// validators and the attestation that aggregates them into a block header.
package vote

import (
	"errors"
	"fmt"

	"github.com/luxfi/crypto"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/rlp"
)

const (
	// AddressLength is the size of a compressed BLS public key.
	AddressLength = 48
	// SignatureLength is the size of a compressed BLS signature.
	SignatureLength = 96
)

var (
	ErrMissingData      = errors.New("vote data is missing")
	ErrParsePublicKey   = errors.New("failed to parse vote address")
	ErrParseSignature   = errors.New("failed to parse vote signature")
	ErrInvalidSignature = errors.New("vote signature is invalid")
)

// Address is a validator's BLS public key, used to identify its votes.
type Address [AddressLength]byte

func (a Address) String() string {
	return fmt.Sprintf("%x", a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return hexutil.Bytes(a[:]).MarshalText()
}

func (a *Address) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("vote.Address", input, a[:])
}

// PublicKey parses the address into a BLS public key.
func (a Address) PublicKey() (*bls.PublicKey, error) {
	pk, err := bls.PublicKeyFromCompressedBytes(a[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParsePublicKey, err)
	}
	return pk, nil
}

// AddressFromPublicKey returns the vote address of pk.
func AddressFromPublicKey(pk *bls.PublicKey) Address {
	var a Address
	copy(a[:], bls.PublicKeyToCompressedBytes(pk))
	return a
}

type Signature [SignatureLength]byte

// Data references a justified checkpoint: the source is the latest justified
// block and the target is the block being voted for.
type Data struct {
	SourceNumber uint64      `json:"source_number"`
	SourceHash   common.Hash `json:"source_hash"`
	TargetNumber uint64      `json:"target_number"`
	TargetHash   common.Hash `json:"target_hash"`
}

// Hash is the message every validator signs.
func (d *Data) Hash() common.Hash {
	return rlpHash(d)
}

func (d *Data) String() string {
	return fmt.Sprintf("{source: %d %s, target: %d %s}",
		d.SourceNumber, d.SourceHash.TerminalString(),
		d.TargetNumber, d.TargetHash.TerminalString(),
	)
}

// Envelope is a single validator's signed vote.
type Envelope struct {
	VoteAddress Address
	Signature   Signature
	Data        *Data
}

// Hash identifies the envelope on the wire.
func (e *Envelope) Hash() common.Hash {
	return rlpHash(e)
}

// Verify checks the signature against the vote address.
func (e *Envelope) Verify() error {
	if e.Data == nil {
		return ErrMissingData
	}
	pk, err := e.VoteAddress.PublicKey()
	if err != nil {
		return err
	}
	sig, err := bls.SignatureFromBytes(e.Signature[:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParseSignature, err)
	}
	hash := e.Data.Hash()
	if !bls.Verify(pk, sig, hash[:]) {
		return ErrInvalidSignature
	}
	return nil
}

// Bytes returns the RLP encoding of the envelope.
func (e *Envelope) Bytes() ([]byte, error) {
	return rlp.EncodeToBytes(e)
}

// ParseEnvelope decodes a gossiped vote.
func ParseEnvelope(b []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := rlp.DecodeBytes(b, e); err != nil {
		return nil, err
	}
	if e.Data == nil {
		return nil, ErrMissingData
	}
	return e, nil
}

// Signer produces BLS signatures for a single vote key.
type Signer interface {
	PublicKey() *bls.PublicKey
	Sign(msg []byte) (*bls.Signature, error)
}

// Sign casts a vote for data.
func Sign(signer Signer, data *Data) (*Envelope, error) {
	hash := data.Hash()
	sig, err := signer.Sign(hash[:])
	if err != nil {
		return nil, err
	}
	e := &Envelope{
		VoteAddress: AddressFromPublicKey(signer.PublicKey()),
		Data:        data,
	}
	copy(e.Signature[:], bls.SignatureToBytes(sig))
	return e, nil
}

func rlpHash(x interface{}) (h common.Hash) {
	hasher := crypto.NewKeccakState()
	_ = rlp.Encode(hasher, x)
	_, _ = hasher.Read(h[:])
	return h
}

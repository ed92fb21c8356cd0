// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vote

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/geth/rlp"
	"github.com/luxfi/math/set"
)

const (
	// MaxValidators is the number of validators a ValidatorsBitSet can index.
	MaxValidators = 64
	// MaxAttestationExtraLength bounds the opaque Extra field.
	MaxAttestationExtraLength = 256
)

var (
	ErrNotEnoughVotes        = errors.New("not enough votes")
	ErrInvalidAttestationSet = errors.New("vote address set does not match the aggregated signatures")
	ErrAggregationFailure    = errors.New("failed to aggregate vote signatures")
	ErrExtraTooLong          = errors.New("attestation extra is too long")
	ErrIndexOutOfRange       = errors.New("validator index out of range")
)

// ValidatorsBitSet marks which validators contributed to an attestation. Bit
// i stands for the validator whose 1-based index is i+1.
type ValidatorsBitSet uint64

// Bits expands the set into a set.Bits with the same bit positions.
func (b ValidatorsBitSet) Bits() set.Bits {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b))
	return set.BitsFromBytes(buf[:])
}

// Count returns the number of validators in the set.
func (b ValidatorsBitSet) Count() int {
	return b.Bits().Len()
}

// Contains reports whether the validator with the 1-based index is set.
func (b ValidatorsBitSet) Contains(index int) bool {
	if index < 1 || index > MaxValidators {
		return false
	}
	return b&(1<<(index-1)) != 0
}

// Add marks the validator with the 1-based index.
func (b *ValidatorsBitSet) Add(index int) error {
	if index < 1 || index > MaxValidators {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	*b |= 1 << (index - 1)
	return nil
}

// Attestation is the aggregated proof, carried in a header's extra-data, that
// a quorum of validators voted for Data.
type Attestation struct {
	VoteAddressSet ValidatorsBitSet
	AggSignature   Signature
	Data           *Data
	Extra          []byte
}

// Bytes returns the RLP encoding spliced into extra-data.
func (a *Attestation) Bytes() ([]byte, error) {
	return rlp.EncodeToBytes(a)
}

// ParseAttestation decodes an attestation from the extra-data region.
func ParseAttestation(b []byte) (*Attestation, error) {
	a := &Attestation{}
	if err := rlp.DecodeBytes(b, a); err != nil {
		return nil, err
	}
	if a.Data == nil {
		return nil, ErrMissingData
	}
	if len(a.Extra) > MaxAttestationExtraLength {
		return nil, fmt.Errorf("%w: %d", ErrExtraTooLong, len(a.Extra))
	}
	return a, nil
}

// AggregateSignatures combines the signatures of votes. All votes must sign
// the same data; that is the caller's responsibility.
func AggregateSignatures(votes []*Envelope) (Signature, error) {
	var agg Signature
	if len(votes) == 0 {
		return agg, ErrNotEnoughVotes
	}
	sigs := make([]*bls.Signature, len(votes))
	for i, v := range votes {
		sig, err := bls.SignatureFromBytes(v.Signature[:])
		if err != nil {
			return agg, fmt.Errorf("%w: vote %d: %w", ErrAggregationFailure, i, err)
		}
		sigs[i] = sig
	}
	aggSig, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return agg, fmt.Errorf("%w: %w", ErrAggregationFailure, err)
	}
	copy(agg[:], bls.SignatureToBytes(aggSig))
	return agg, nil
}

// VerifySignature checks the aggregate signature against the vote addresses
// of the validators named by VoteAddressSet.
func (a *Attestation) VerifySignature(voters []Address) error {
	if a.Data == nil {
		return ErrMissingData
	}
	if len(voters) == 0 {
		return ErrNotEnoughVotes
	}
	pks := make([]*bls.PublicKey, len(voters))
	for i, voter := range voters {
		pk, err := voter.PublicKey()
		if err != nil {
			return err
		}
		pks[i] = pk
	}
	aggPK, err := bls.AggregatePublicKeys(pks)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAggregationFailure, err)
	}
	sig, err := bls.SignatureFromBytes(a.AggSignature[:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParseSignature, err)
	}
	hash := a.Data.Hash()
	if !bls.Verify(aggPK, sig, hash[:]) {
		return ErrInvalidSignature
	}
	return nil
}

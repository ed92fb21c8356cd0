// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package header implements the Parlia layout of header extra-data:
//
//	[vanity][validator list, epoch blocks only][vote attestation][seal]
//
// After Luban the validator list is a one byte count followed by
// (address, vote address) pairs. Before Luban it is a bare list of addresses
// and there is no attestation.
package header

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/vote"
)

const (
	ExtraVanity = 32
	ExtraSeal   = crypto.SignatureLength

	ValidatorNumberSize             = 1
	ValidatorBytesLength            = common.AddressLength + vote.AddressLength
	ValidatorBytesLengthBeforeLuban = common.AddressLength
)

var (
	DiffInTurn = big.NewInt(2)
	DiffNoTurn = big.NewInt(1)

	ErrInvalidExtraData      = errors.New("invalid extra-data")
	ErrMissingVanity         = fmt.Errorf("%w: missing vanity prefix", ErrInvalidExtraData)
	ErrMissingSignature      = fmt.Errorf("%w: missing signature suffix", ErrInvalidExtraData)
	ErrExtraValidators       = fmt.Errorf("%w: validator list on a non-epoch block", ErrInvalidExtraData)
	ErrInvalidSpanValidators = fmt.Errorf("%w: malformed validator list on an epoch block", ErrInvalidExtraData)
	ErrInvalidAttestation    = fmt.Errorf("%w: malformed vote attestation", ErrInvalidExtraData)
)

// Validator is an entry of the validator list embedded in an epoch header.
type Validator struct {
	Address     common.Address
	VoteAddress vote.Address
}

// CheckLength rejects extra-data too short to hold the vanity and the seal.
func CheckLength(h *types.Header) error {
	switch {
	case len(h.Extra) < ExtraVanity:
		return ErrMissingVanity
	case len(h.Extra) < ExtraVanity+ExtraSeal:
		return ErrMissingSignature
	default:
		return nil
	}
}

// validatorRegion returns the [start, end) bounds of the validator list.
// Non-epoch headers have an empty region at ExtraVanity.
func validatorRegion(h *types.Header, c *config.ChainConfig) (int, int, error) {
	if err := CheckLength(h); err != nil {
		return 0, 0, err
	}
	num := h.Number.Uint64()
	if !c.IsEpoch(num) {
		return ExtraVanity, ExtraVanity, nil
	}
	sealStart := len(h.Extra) - ExtraSeal
	if !c.IsLuban(num) {
		// The whole body is the address list.
		if (sealStart-ExtraVanity)%ValidatorBytesLengthBeforeLuban != 0 {
			return 0, 0, ErrInvalidSpanValidators
		}
		return ExtraVanity, sealStart, nil
	}
	if sealStart == ExtraVanity {
		return 0, 0, ErrInvalidSpanValidators
	}
	count := int(h.Extra[ExtraVanity])
	end := ExtraVanity + ValidatorNumberSize + count*ValidatorBytesLength
	if count == 0 || end > sealStart {
		return 0, 0, ErrInvalidSpanValidators
	}
	return ExtraVanity, end, nil
}

// ValidatorBytes returns the raw validator list of an epoch header.
func ValidatorBytes(h *types.Header, c *config.ChainConfig) ([]byte, error) {
	start, end, err := validatorRegion(h, c)
	if err != nil {
		return nil, err
	}
	return h.Extra[start:end], nil
}

// ParseValidators decodes the validator list of an epoch header. Before Luban
// the returned vote addresses are zero.
func ParseValidators(h *types.Header, c *config.ChainConfig) ([]Validator, error) {
	if !c.IsEpoch(h.Number.Uint64()) {
		return nil, fmt.Errorf("%w: block %d is not an epoch block", ErrInvalidSpanValidators, h.Number)
	}
	raw, err := ValidatorBytes(h, c)
	if err != nil {
		return nil, err
	}
	if !c.IsLuban(h.Number.Uint64()) {
		n := len(raw) / ValidatorBytesLengthBeforeLuban
		if n == 0 {
			return nil, ErrInvalidSpanValidators
		}
		vals := make([]Validator, n)
		for i := range vals {
			copy(vals[i].Address[:], raw[i*ValidatorBytesLengthBeforeLuban:])
		}
		return vals, nil
	}

	raw = raw[ValidatorNumberSize:]
	vals := make([]Validator, len(raw)/ValidatorBytesLength)
	for i := range vals {
		entry := raw[i*ValidatorBytesLength : (i+1)*ValidatorBytesLength]
		copy(vals[i].Address[:], entry[:common.AddressLength])
		copy(vals[i].VoteAddress[:], entry[common.AddressLength:])
	}
	return vals, nil
}

// EncodeValidators returns the validator list as it is embedded in an epoch
// header.
func EncodeValidators(vals []Validator, isLuban bool) []byte {
	if !isLuban {
		b := make([]byte, 0, len(vals)*ValidatorBytesLengthBeforeLuban)
		for _, v := range vals {
			b = append(b, v.Address[:]...)
		}
		return b
	}
	b := make([]byte, 0, ValidatorNumberSize+len(vals)*ValidatorBytesLength)
	b = append(b, byte(len(vals)))
	for _, v := range vals {
		b = append(b, v.Address[:]...)
		b = append(b, v.VoteAddress[:]...)
	}
	return b
}

// NewExtra builds unsigned extra-data: vanity, the validator list when vals is
// non-empty, and a zeroed seal.
func NewExtra(vanity []byte, vals []Validator, isLuban bool) []byte {
	extra := make([]byte, ExtraVanity, ExtraVanity+ExtraSeal)
	copy(extra, vanity)
	if len(vals) > 0 {
		extra = append(extra, EncodeValidators(vals, isLuban)...)
	}
	return append(extra, make([]byte, ExtraSeal)...)
}

// GetVoteAttestation returns the attestation carried by h, or nil if there is
// none.
func GetVoteAttestation(h *types.Header, c *config.ChainConfig) (*vote.Attestation, error) {
	if !c.IsLuban(h.Number.Uint64()) || len(h.Extra) <= ExtraVanity+ExtraSeal {
		return nil, nil
	}
	_, start, err := validatorRegion(h, c)
	if err != nil {
		return nil, err
	}
	end := len(h.Extra) - ExtraSeal
	if start >= end {
		return nil, nil
	}
	a, err := vote.ParseAttestation(h.Extra[start:end])
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", ErrInvalidAttestation, h.Number, err)
	}
	return a, nil
}

// SetVoteAttestation writes a into the extra-data of h, replacing any
// attestation already present. The seal is preserved.
func SetVoteAttestation(h *types.Header, c *config.ChainConfig, a *vote.Attestation) error {
	_, start, err := validatorRegion(h, c)
	if err != nil {
		return err
	}
	b, err := a.Bytes()
	if err != nil {
		return err
	}
	sealStart := len(h.Extra) - ExtraSeal
	extra := make([]byte, 0, start+len(b)+ExtraSeal)
	extra = append(extra, h.Extra[:start]...)
	extra = append(extra, b...)
	extra = append(extra, h.Extra[sealStart:]...)
	h.Extra = extra
	return nil
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package header

import (
	"fmt"
	"io"
	"math/big"

	lru "github.com/hashicorp/golang-lru"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/rlp"
)

// SealHash returns the hash a validator signs: every header field with the
// seal stripped from extra-data, prefixed by the chain id.
func SealHash(h *types.Header, chainID *big.Int) (common.Hash, error) {
	hasher := crypto.NewKeccakState()
	if err := EncodeSigHeader(hasher, h, chainID); err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	_, _ = hasher.Read(hash[:])
	return hash, nil
}

// EncodeSigHeader writes the RLP encoding covered by the seal to w.
func EncodeSigHeader(w io.Writer, h *types.Header, chainID *big.Int) error {
	if len(h.Extra) < ExtraSeal {
		return ErrMissingSignature
	}
	if h.Difficulty == nil || h.Number == nil {
		return fmt.Errorf("%w: missing difficulty or number", ErrInvalidExtraData)
	}
	data := []interface{}{
		chainID,
		h.ParentHash,
		h.UncleHash,
		h.Coinbase,
		h.Root,
		h.TxHash,
		h.ReceiptHash,
		h.Bloom,
		h.Difficulty,
		h.Number,
		h.GasLimit,
		h.GasUsed,
		h.Time,
		h.Extra[:len(h.Extra)-ExtraSeal],
		h.MixDigest,
		h.Nonce,
	}
	// Optional fields are appended in fork order while present.
	optional := []interface{}{}
	if h.BaseFee != nil {
		optional = append(optional, h.BaseFee)
		if h.WithdrawalsHash != nil {
			optional = append(optional, h.WithdrawalsHash)
			if h.BlobGasUsed != nil && h.ExcessBlobGas != nil {
				optional = append(optional, h.BlobGasUsed, h.ExcessBlobGas)
				if h.ParentBeaconRoot != nil {
					optional = append(optional, h.ParentBeaconRoot)
					if h.RequestsHash != nil {
						optional = append(optional, h.RequestsHash)
					}
				}
			}
		}
	}
	return rlp.Encode(w, append(data, optional...))
}

// Signature returns the seal bytes of h.
func Signature(h *types.Header) ([]byte, error) {
	if len(h.Extra) < ExtraSeal {
		return nil, ErrMissingSignature
	}
	return h.Extra[len(h.Extra)-ExtraSeal:], nil
}

// SetSignature writes sig into the seal region of h.
func SetSignature(h *types.Header, sig []byte) error {
	if len(sig) != ExtraSeal {
		return fmt.Errorf("%w: signature is %d bytes, expected %d", ErrInvalidExtraData, len(sig), ExtraSeal)
	}
	if len(h.Extra) < ExtraSeal {
		return ErrMissingSignature
	}
	extra := make([]byte, len(h.Extra))
	copy(extra, h.Extra)
	copy(extra[len(extra)-ExtraSeal:], sig)
	h.Extra = extra
	return nil
}

// Recoverer recovers header signers and remembers the result by header hash.
// It is safe for concurrent use.
type Recoverer struct {
	chainID *big.Int
	cache   *lru.ARCCache
}

func NewRecoverer(chainID *big.Int, cacheSize int) (*Recoverer, error) {
	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Recoverer{
		chainID: chainID,
		cache:   cache,
	}, nil
}

// ChainID is the chain id mixed into every seal hash.
func (r *Recoverer) ChainID() *big.Int {
	return r.chainID
}

// Recover returns the address that sealed h.
func (r *Recoverer) Recover(h *types.Header) (common.Address, error) {
	hash := h.Hash()
	if signer, ok := r.cache.Get(hash); ok {
		return signer.(common.Address), nil
	}

	sig, err := Signature(h)
	if err != nil {
		return common.Address{}, err
	}
	sealHash, err := SealHash(h, r.chainID)
	if err != nil {
		return common.Address{}, err
	}
	pubkey, err := crypto.Ecrecover(sealHash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidExtraData, err)
	}
	var signer common.Address
	copy(signer[:], crypto.Keccak256(pubkey[1:])[12:])

	r.cache.Add(hash, signer)
	return signer, nil
}

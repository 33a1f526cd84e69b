package nft

import (
	"bytes"
	"fmt"
	"math/big"

	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const PermitPrimaryType = "BatchTransferPermit"

// Permit authorizes the collection to move Quantity tokens starting at
// StartTokenID from Owner to To. It is valid for one Nonce until Deadline.
type Permit struct {
	Owner        gcommon.Address
	To           gcommon.Address
	StartTokenID *big.Int
	Quantity     *big.Int
	Nonce        *big.Int
	Deadline     *big.Int
}

// Domain is the EIP-712 domain of a collection contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract gcommon.Address
}

var permitTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PermitPrimaryType: {
		{Name: "owner", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "startTokenId", Type: "uint256"},
		{Name: "quantity", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// TypedData renders the permit for signing. Integers are encoded as decimal
// strings so the payload survives a JSON round trip to a remote signer.
func (p Permit) TypedData(d Domain) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       permitTypes,
		PrimaryType: PermitPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":        p.Owner.Hex(),
			"to":           p.To.Hex(),
			"startTokenId": p.StartTokenID.String(),
			"quantity":     p.Quantity.String(),
			"nonce":        p.Nonce.String(),
			"deadline":     p.Deadline.String(),
		},
	}
}

// RecoverSigner returns the address that produced sig over data. sig must be
// 65 bytes with v in {0,1,27,28}.
func RecoverSigner(data apitypes.TypedData, sig []byte) (gcommon.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return gcommon.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return gcommon.Address{}, fmt.Errorf("apitypes.TypedDataAndHash: %w", err)
	}
	normalized := bytes.Clone(sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return gcommon.Address{}, fmt.Errorf("crypto.SigToPub: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

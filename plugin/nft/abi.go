package nft

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	gcommon "github.com/ethereum/go-ethereum/common"
)

// CollectionABI covers the escrow-aware collection contract methods used for
// fulfillment.
const CollectionABI = `[
  {
    "name": "ownerOf",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{"name": "tokenId", "type": "uint256"}],
    "outputs": [{"name": "", "type": "address"}]
  },
  {
    "name": "isEscrowWallet",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{"name": "wallet", "type": "address"}],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "name": "nonces",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "name": "batchTransferWithPermit",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "permit",
        "type": "tuple",
        "components": [
          {"name": "owner", "type": "address"},
          {"name": "to", "type": "address"},
          {"name": "startTokenId", "type": "uint256"},
          {"name": "quantity", "type": "uint256"},
          {"name": "nonce", "type": "uint256"},
          {"name": "deadline", "type": "uint256"}
        ]
      },
      {"name": "signature", "type": "bytes"}
    ],
    "outputs": []
  }
]`

var collectionABI = mustParseABI(CollectionABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("abi.JSON: %v", err))
	}
	return parsed
}

// permitArg mirrors the permit tuple; field names follow the ABI components.
type permitArg struct {
	Owner        gcommon.Address
	To           gcommon.Address
	StartTokenId *big.Int
	Quantity     *big.Int
	Nonce        *big.Int
	Deadline     *big.Int
}

func packOwnerOf(tokenID *big.Int) ([]byte, error) {
	return collectionABI.Pack("ownerOf", tokenID)
}

func unpackOwnerOf(data []byte) (gcommon.Address, error) {
	out, err := collectionABI.Unpack("ownerOf", data)
	if err != nil {
		return gcommon.Address{}, err
	}
	addr, ok := out[0].(gcommon.Address)
	if !ok {
		return gcommon.Address{}, fmt.Errorf("unexpected ownerOf output %T", out[0])
	}
	return addr, nil
}

func packIsEscrowWallet(wallet gcommon.Address) ([]byte, error) {
	return collectionABI.Pack("isEscrowWallet", wallet)
}

func unpackIsEscrowWallet(data []byte) (bool, error) {
	out, err := collectionABI.Unpack("isEscrowWallet", data)
	if err != nil {
		return false, err
	}
	ok, isBool := out[0].(bool)
	if !isBool {
		return false, fmt.Errorf("unexpected isEscrowWallet output %T", out[0])
	}
	return ok, nil
}

func packNonces(owner gcommon.Address) ([]byte, error) {
	return collectionABI.Pack("nonces", owner)
}

func unpackNonces(data []byte) (*big.Int, error) {
	out, err := collectionABI.Unpack("nonces", data)
	if err != nil {
		return nil, err
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected nonces output %T", out[0])
	}
	return n, nil
}

func packBatchTransferWithPermit(p Permit, signature []byte) ([]byte, error) {
	return collectionABI.Pack("batchTransferWithPermit", permitArg{
		Owner:        p.Owner,
		To:           p.To,
		StartTokenId: p.StartTokenID,
		Quantity:     p.Quantity,
		Nonce:        p.Nonce,
		Deadline:     p.Deadline,
	}, signature)
}

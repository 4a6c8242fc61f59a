package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs exchange transactions for a single EOA on one chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	signer     types.Signer
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID (43114 for Avalanche C-Chain, 43113 for Fuji).
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("crypto/signer: invalid chain id %d", chainID)
	}
	id := big.NewInt(chainID)
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    id,
		signer:     types.LatestSignerForChainID(id),
	}, nil
}

// Address returns the account the signer controls.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer is bound to.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx for the signer's chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

// Owns reports whether wallet is the signer's address, ignoring case.
func (s *Signer) Owns(wallet string) bool {
	return common.IsHexAddress(wallet) && common.HexToAddress(wallet) == s.address
}

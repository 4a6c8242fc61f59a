package crypto

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyHex(t *testing.T) string {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(ethcrypto.FromECDSA(pk))
}

func TestSignerSignsForChain(t *testing.T) {
	t.Parallel()
	s, err := NewSigner("0x"+testKeyHex(t), 43114)
	require.NoError(t, err)

	to := common.HexToAddress("0xb87a436B93fFE9D75c5cFA7bAcFff96430b09868")
	tx := types.NewTx(&types.LegacyTx{Nonce: 7, To: &to, Value: big.NewInt(1), Gas: 21000, GasPrice: big.NewInt(25)})
	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(43114)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
	assert.Equal(t, int64(43114), signed.ChainId().Int64())
}

func TestSignerOwns(t *testing.T) {
	t.Parallel()
	s, err := NewSigner(testKeyHex(t), 43113)
	require.NoError(t, err)

	assert.True(t, s.Owns(s.Address().Hex()))
	assert.True(t, s.Owns(strings.ToLower(s.Address().Hex())))
	assert.False(t, s.Owns("0x0000000000000000000000000000000000000001"))
	assert.False(t, s.Owns("not-an-address"))
}

func TestNewSignerRejectsBadInput(t *testing.T) {
	t.Parallel()
	_, err := NewSigner("zz", 43114)
	assert.Error(t, err)
	_, err = NewSigner(testKeyHex(t), 0)
	assert.Error(t, err)
}

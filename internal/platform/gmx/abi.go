package gmx

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const vaultABIJSON = `[
  {"type":"function","name":"getPosition","stateMutability":"view",
   "inputs":[{"name":"_account","type":"address"},{"name":"_collateralToken","type":"address"},{"name":"_indexToken","type":"address"},{"name":"_isLong","type":"bool"}],
   "outputs":[{"name":"size","type":"uint256"},{"name":"collateral","type":"uint256"},{"name":"averagePrice","type":"uint256"},{"name":"entryFundingRate","type":"uint256"},{"name":"reserveAmount","type":"uint256"},{"name":"realisedPnl","type":"uint256"},{"name":"hasRealisedProfit","type":"bool"},{"name":"lastIncreasedTime","type":"uint256"}]},
  {"type":"function","name":"poolAmounts","stateMutability":"view",
   "inputs":[{"name":"_token","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"reservedAmounts","stateMutability":"view",
   "inputs":[{"name":"_token","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

const positionRouterABIJSON = `[
  {"type":"function","name":"createIncreasePosition","stateMutability":"payable",
   "inputs":[{"name":"_path","type":"address[]"},{"name":"_indexToken","type":"address"},{"name":"_amountIn","type":"uint256"},{"name":"_minOut","type":"uint256"},{"name":"_sizeDelta","type":"uint256"},{"name":"_isLong","type":"bool"},{"name":"_acceptablePrice","type":"uint256"},{"name":"_executionFee","type":"uint256"},{"name":"_referralCode","type":"bytes32"},{"name":"_callbackTarget","type":"address"}],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"createDecreasePosition","stateMutability":"payable",
   "inputs":[{"name":"_path","type":"address[]"},{"name":"_indexToken","type":"address"},{"name":"_collateralDelta","type":"uint256"},{"name":"_sizeDelta","type":"uint256"},{"name":"_isLong","type":"bool"},{"name":"_receiver","type":"address"},{"name":"_acceptablePrice","type":"uint256"},{"name":"_minOut","type":"uint256"},{"name":"_executionFee","type":"uint256"},{"name":"_withdrawETH","type":"bool"},{"name":"_callbackTarget","type":"address"}],
   "outputs":[{"name":"","type":"bytes32"}]}
]`

var (
	vaultABI          = mustABI(vaultABIJSON)
	positionRouterABI = mustABI(positionRouterABIJSON)
)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("gmx: bad abi: " + err.Error())
	}
	return a
}

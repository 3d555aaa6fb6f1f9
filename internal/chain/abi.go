package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

// comptrollerABI covers the Comptroller entry points the bot uses: market
// enumeration, market entry and reward claiming.
const comptrollerABI = `[
  {"type":"function","name":"getAllMarkets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"getAssetsIn","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"enterMarkets","stateMutability":"nonpayable","inputs":[{"name":"cTokens","type":"address[]"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"claimComp","stateMutability":"nonpayable","inputs":[{"name":"holder","type":"address"}],"outputs":[]},
  {"type":"function","name":"compAccrued","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// cTokenABI covers the interest-bearing token: deposit (mint), withdrawal
// (redeem) and the rate/metadata reads. mint and redeem return an error code
// that is zero on success; callers sending them only see the receipt.
const cTokenABI = `[
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"mintAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"redeem","stateMutability":"nonpayable","inputs":[{"name":"redeemTokens","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"exchangeRateStored","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"supplyRatePerBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"underlying","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// erc20ABI is the subset of ERC-20 used for balances, allowances and unit
// conversion.
const erc20ABI = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ParseABIs parses the embedded ABI definitions keyed by contract kind.
func ParseABIs() (map[domain.ContractKind]abi.ABI, error) {
	sources := map[domain.ContractKind]string{
		domain.KindComptroller: comptrollerABI,
		domain.KindCToken:      cTokenABI,
		domain.KindERC20:       erc20ABI,
	}
	out := make(map[domain.ContractKind]abi.ABI, len(sources))
	for kind, src := range sources {
		parsed, err := abi.JSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("chain: parse %s abi: %w", kind, err)
		}
		out[kind] = parsed
	}
	return out, nil
}

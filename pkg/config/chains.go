package config

import "strings"

// chainDefaults describes a mainnet chain the solver knows out of the box.
// Each value can be overridden through <NAME>_RPC_URL, <NAME>_INTENT_ADDRESS,
// <NAME>_MIN_FEE and <NAME>_GAS_MULTIPLIER.
type chainDefaults struct {
	ChainID       uint64
	Name          string
	RPCURL        string
	IntentAddress string
	MinFee        string
}

var knownChains = []chainDefaults{
	{8453, "BASE", "https://mainnet.base.org", "0x999fce149FD078DCFaa2C681e060e00F528552f4", "100000"},
	{42161, "ARBITRUM", "https://arb1.arbitrum.io/rpc", "0xD6B0E2a8D115cCA2823c5F80F8416644F3970dD2", "100000"},
	{137, "POLYGON", "https://polygon-rpc.com", "0x4017717c550E4B6E61048D412a718D6A8078d264", "100000"},
	{1, "ETHEREUM", "https://eth.llamarpc.com", "0x951AB2A5417a51eB5810aC44BC1fC716995C1CAB", "1000000"},
	{43114, "AVALANCHE", "https://avalanche-c-chain-rpc.publicnode.com", "0x9a22A7d337aF1801BEEcDBE7f4f04BbD09F9E5bb", "100000"},
	// BSC stablecoins use 18 decimals
	{56, "BSC", "https://bsc-dataseed.bnbchain.org", "0x68282fa70a32E52711d437b6c5984B714Eec3ED0", "400000000000000000"},
	{7000, "ZETACHAIN", "https://zetachain-evm.blockpi.network/v1/rpc/public", "0x986e2db1aF08688dD3C9311016026daD15969e09", "100000"},
}

// usdcAddresses maps chain IDs to USDC contract addresses
var usdcAddresses = map[uint64]string{
	1:     "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	137:   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	42161: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	43114: "0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e",
	56:    "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
	7000:  "0x0cbe0dF132a6c6B4a2974Fa1b7Fb953CF0Cc798a",
	8453:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
}

// usdtAddresses maps chain IDs to USDT contract addresses
var usdtAddresses = map[uint64]string{
	1:     "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	137:   "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
	42161: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
	43114: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7",
	56:    "0x55d398326f99059fF775485246999027B3197955",
	7000:  "0x7c8dDa80bbBE1254a7aACf3219EBe1481c6E01d7",
	8453:  "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb",
}

// GetChainName returns the name of the chain for a given chain ID
func GetChainName(chainID uint64) string {
	for _, c := range knownChains {
		if c.ChainID == chainID {
			return c.Name
		}
	}
	return ""
}

// GetUSDCAddress returns the USDC contract address for a given chain ID
func GetUSDCAddress(chainID uint64) string {
	return usdcAddresses[chainID]
}

// GetUSDTAddress returns the USDT contract address for a given chain ID
func GetUSDTAddress(chainID uint64) string {
	return usdtAddresses[chainID]
}

// GetTokenType returns USDC or USDT for a known stablecoin address on the given chain, or an empty string
func GetTokenType(chainID uint64, address string) string {
	if strings.EqualFold(usdcAddresses[chainID], address) {
		return "USDC"
	}
	if strings.EqualFold(usdtAddresses[chainID], address) {
		return "USDT"
	}
	return ""
}

// GetTokenDecimals returns the decimals of a known stablecoin, defaulting to 18
func GetTokenDecimals(chainID uint64, address string) int32 {
	if GetTokenType(chainID, address) != "" && chainID != 56 {
		return 6
	}
	return 18
}

package networks

import (
	"wallet-migrator/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

var defaultDescriptors = map[models.NetworkName]models.NetworkDescriptor{
	models.Ethereum: {
		Name:            models.Ethereum,
		ChainID:         1,
		NativeSymbol:    "ETH",
		RpcEndpoint:     "https://eth.llamarpc.com",
		ExplorerBaseURL: "https://etherscan.io/tx",
		Tokens: []models.Token{
			{Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")},
			{Symbol: "USDT", Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")},
		},
	},
	models.Base: {
		Name:            models.Base,
		ChainID:         8453,
		NativeSymbol:    "ETH",
		RpcEndpoint:     "https://mainnet.base.org",
		ExplorerBaseURL: "https://basescan.org/tx",
		Tokens: []models.Token{
			{Symbol: "USDC", Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")},
		},
	},
	models.Arbitrum: {
		Name:            models.Arbitrum,
		ChainID:         42161,
		NativeSymbol:    "ETH",
		RpcEndpoint:     "https://arb1.arbitrum.io/rpc",
		ExplorerBaseURL: "https://arbiscan.io/tx",
		Tokens: []models.Token{
			{Symbol: "USDC", Address: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")},
			{Symbol: "USDT", Address: common.HexToAddress("0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9")},
		},
	},
	models.Optimism: {
		Name:            models.Optimism,
		ChainID:         10,
		NativeSymbol:    "ETH",
		RpcEndpoint:     "https://mainnet.optimism.io",
		ExplorerBaseURL: "https://optimistic.etherscan.io/tx",
		Tokens: []models.Token{
			{Symbol: "USDC", Address: common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")},
		},
	},
	models.Polygon: {
		Name:            models.Polygon,
		ChainID:         137,
		NativeSymbol:    "POL",
		RpcEndpoint:     "https://polygon-rpc.com",
		ExplorerBaseURL: "https://polygonscan.com/tx",
		Tokens: []models.Token{
			{Symbol: "USDC", Address: common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")},
			{Symbol: "USDT", Address: common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F")},
		},
	},
	models.Celo: {
		Name:            models.Celo,
		ChainID:         42220,
		NativeSymbol:    "CELO",
		RpcEndpoint:     "https://forno.celo.org",
		ExplorerBaseURL: "https://celoscan.io/tx",
		Tokens: []models.Token{
			{Symbol: "USDC", Address: common.HexToAddress("0xcebA9300f2b948710d2653dD7B07f33A8B32118C")},
			{Symbol: "cUSD", Address: common.HexToAddress("0x765DE816845861e75A25fCA122bb6898B8B1282a")},
			{Symbol: "cKES", Address: common.HexToAddress("0x456a3D042C0DbD3db53D5489e98dFb038553B0d0"), PeggedCurrency: "KES"},
		},
	},
}

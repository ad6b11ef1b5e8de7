package models

type NetworkName string

const (
	Ethereum NetworkName = "Ethereum"
	Base     NetworkName = "Base"
	Arbitrum NetworkName = "Arbitrum"
	Optimism NetworkName = "Optimism"
	Polygon  NetworkName = "Polygon"
	Celo     NetworkName = "Celo"
)

func (n NetworkName) String() string {
	return string(n)
}

// AllNetworks lists the supported networks in display order.
var AllNetworks = []NetworkName{Ethereum, Base, Arbitrum, Optimism, Polygon, Celo}

package abis

import (
	"bytes"
	_ "embed"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	//go:embed erc20.json
	erc20 []byte
	//go:embed simple_account.json
	simpleAccount []byte
	//go:embed entry_point.json
	entryPoint []byte
)

var (
	ERC20         abi.ABI
	SimpleAccount abi.ABI
	EntryPoint    abi.ABI
)

func init() {
	builder := []struct {
		ABI  *abi.ABI
		data []byte
	}{
		{&ERC20, erc20},
		{&SimpleAccount, simpleAccount},
		{&EntryPoint, entryPoint},
	}

	for _, b := range builder {
		var err error
		*b.ABI, err = abi.JSON(bytes.NewReader(b.data))
		if err != nil {
			panic(err)
		}
	}
}

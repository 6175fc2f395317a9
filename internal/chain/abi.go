package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const registryABIJSON = `[
  {"type":"function","name":"nextMarketId","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getMarket","stateMutability":"view",
   "inputs":[{"name":"marketId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"description","type":"string"},
     {"name":"endpointPath","type":"string"},
     {"name":"jsonPath","type":"string"},
     {"name":"targetValue","type":"uint256"},
     {"name":"operator","type":"uint8"},
     {"name":"bettingDeadline","type":"uint48"},
     {"name":"resolutionDate","type":"uint48"},
     {"name":"createdAt","type":"uint48"},
     {"name":"status","type":"uint8"},
     {"name":"creator","type":"address"}
   ]}]}
]`

const receiverABIJSON = `[
  {"type":"function","name":"onReport","stateMutability":"nonpayable",
   "inputs":[{"name":"metadata","type":"bytes"},{"name":"report","type":"bytes"}],
   "outputs":[]}
]`

var (
	registryABI = mustParseABI(registryABIJSON)
	receiverABI = mustParseABI(receiverABIJSON)

	bytes32Type, _    = abi.NewType("bytes32", "", nil)
	bytesArrayType, _ = abi.NewType("bytes[]", "", nil)
	metadataArgs      = abi.Arguments{{Type: bytes32Type}, {Type: bytesArrayType}}
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// marketTuple mirrors the getMarket return tuple. Field names follow the
// abi package's camel-casing of the component names.
type marketTuple struct {
	Description     string
	EndpointPath    string
	JsonPath        string
	TargetValue     *big.Int
	Operator        uint8
	BettingDeadline *big.Int
	ResolutionDate  *big.Int
	CreatedAt       *big.Int
	Status          uint8
	Creator         common.Address
}

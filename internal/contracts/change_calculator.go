// Package contracts carries the ABI of the deployed ChangeCalculator contract.
//
// Function selectors:
//
//	pay()              → 0x1b9265b8
//	setPrice(uint256)  → 0x91b7f5ed
//	withdraw()         → 0x3ccfd60b
//	price()            → 0xa035b1fe
//	owner()            → 0x8da5cb5b
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	MethodPay      = "pay"
	MethodSetPrice = "setPrice"
	MethodWithdraw = "withdraw"
	MethodPrice    = "price"
	MethodOwner    = "owner"
)

// ChangeCalculatorABI is the JSON ABI of the fields and entry points the panel uses.
const ChangeCalculatorABI = `[
  {"type":"function","name":"pay","inputs":[],"outputs":[],"stateMutability":"payable"},
  {"type":"function","name":"setPrice","inputs":[{"name":"_price","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"withdraw","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"price","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"}
]`

// ParseChangeCalculatorABI parses ChangeCalculatorABI.
func ParseChangeCalculatorABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(ChangeCalculatorABI))
}

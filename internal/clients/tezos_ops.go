package clients

import (
	"strconv"
)

const (
	opKindTransaction = "transaction"

	// watermark prepended to generic operations before signing
	genericOperationWatermark = 0x03
)

// Parameters is a Micheline contract call
type Parameters struct {
	Entrypoint string      `json:"entrypoint"`
	Value      interface{} `json:"value"`
}

// Transaction is one manager operation of an operation group
type Transaction struct {
	Kind         string      `json:"kind"`
	Source       string      `json:"source"`
	Fee          string      `json:"fee"`
	Counter      string      `json:"counter"`
	GasLimit     string      `json:"gas_limit"`
	StorageLimit string      `json:"storage_limit"`
	Amount       string      `json:"amount"`
	Destination  string      `json:"destination"`
	Parameters   *Parameters `json:"parameters,omitempty"`
}

// OperationGroup batches several transactions into one injected operation
type OperationGroup struct {
	Branch   string        `json:"branch"`
	Contents []Transaction `json:"contents"`

	forged    []byte
	signature []byte
}

// NewOperationGroup starts an empty batch
func NewOperationGroup() *OperationGroup {
	return &OperationGroup{}
}

// Transaction appends a transfer of amount mutez to destination, optionally calling
// an entrypoint. It returns the group so calls can be chained.
func (g *OperationGroup) Transaction(destination string, amount int64, params *Parameters) *OperationGroup {
	g.Contents = append(g.Contents, Transaction{
		Kind:        opKindTransaction,
		Amount:      strconv.FormatInt(amount, 10),
		Destination: destination,
		Parameters:  params,
	})
	return g
}

// Forged returns the forged bytes, nil before autofill
func (g *OperationGroup) Forged() []byte {
	return g.forged
}

// Signed reports whether Sign has run on the current forged bytes
func (g *OperationGroup) Signed() bool {
	return len(g.signature) > 0
}

package chain

import (
	"context"
	"strings"
)

// CodeGetter is the part of Client used by the presence check.
type CodeGetter interface {
	GetCode(ctx context.Context, address string) (string, error)
}

// IsDeployed reports whether bytecode exists at address. An empty address
// means the contract is not deployed yet and no RPC call is made.
func IsDeployed(ctx context.Context, client CodeGetter, address string) (bool, error) {
	if strings.TrimSpace(address) == "" {
		return false, nil
	}

	code, err := client.GetCode(ctx, address)
	if err != nil {
		return false, err
	}
	return !isEmptyCode(code), nil
}

func isEmptyCode(code string) bool {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "", "0x", "0x0":
		return true
	default:
		return false
	}
}

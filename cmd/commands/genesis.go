package commands

import (
	"fmt"

	"bftchain/types"
)

const (
	defaultSaving   = 200
	defaultChecking = 200
)

var (
	chainID      string
	accountSum   int
	clusterCount int
)

// genesisAccounts returns the SmallBank accounts username1..n.
func genesisAccounts(n int) []types.GenesisAccount {
	accounts := make([]types.GenesisAccount, n)
	for i := 0; i < n; i++ {
		accounts[i] = types.GenesisAccount{
			Name:     fmt.Sprintf("username%v", i+1),
			Saving:   defaultSaving,
			Checking: defaultChecking,
		}
	}
	return accounts
}

// Package blob talks to the remote bot-credentialed file platform. Every
// stored object belongs to exactly one account; retrieval uses the account
// that uploaded it and never falls back to a sibling.
package blob

import (
	"fmt"

	"github.com/hlsvault/hlsvault/internal/config"
)

// Account is one credentialed identity on the blob platform.
type Account struct {
	// ID is the stable identifier recorded in segment rows. IDs are
	// positional: the i-th configured account is "account_{i+1}".
	ID string

	Token  string
	ChatID string
}

// AccountsFromConfig builds the ordered account list. Order matters: the
// distributor assigns segments by position, so reordering the configured
// accounts orphans previously uploaded blobs.
func AccountsFromConfig(cfgs []config.AccountConfig) []Account {
	accounts := make([]Account, 0, len(cfgs))
	for i, c := range cfgs {
		accounts = append(accounts, Account{
			ID:     fmt.Sprintf("account_%d", i+1),
			Token:  c.Token,
			ChatID: c.ChatID,
		})
	}
	return accounts
}

// ByID returns the account with the given ID, or false when the ID is not
// part of the current configuration.
func ByID(accounts []Account, id string) (Account, bool) {
	for _, a := range accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

package handlers

import (
	"context"
)

// Context keys
type contextKey string

const (
	// AdminWalletKey is the key for the admin wallet address in the context
	AdminWalletKey contextKey = "adminWallet"
)

// NewContextWithAdminWallet adds an admin wallet address to the context
func NewContextWithAdminWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, AdminWalletKey, wallet)
}

// AdminWalletFromContext extracts the admin wallet address from the context
func AdminWalletFromContext(ctx context.Context) (string, bool) {
	wallet, ok := ctx.Value(AdminWalletKey).(string)
	return wallet, ok
}

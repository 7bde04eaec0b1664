// Package restrict consults the platform-wide restriction service
// (fraud holds, compliance blocks) before any trading action.
package restrict

import "context"

type Checker interface {
	// CanTrade returns nil when the user may trade; otherwise the
	// error explains the restriction.
	CanTrade(ctx context.Context, userID string) error
}

// AllowAll performs no checks. Used when the restriction service is
// not wired.
type AllowAll struct{}

func NewAllowAll() *AllowAll {
	return &AllowAll{}
}

func (AllowAll) CanTrade(context.Context, string) error { return nil }

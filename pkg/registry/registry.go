// Package registry is the public call surface: four paid writes keyed by the
// caller's own account and four free reads keyed by any account.
package registry

import (
	"context"

	"github.com/neardns/neardns/pkg/record"
	"github.com/neardns/neardns/pkg/recordstore"
)

// Caller describes who invokes a write and what it attached. Both fields come
// from the environment the call arrived through and are trusted as is.
type Caller struct {
	Account record.Owner
	Deposit record.Amount
}

type Registry struct {
	store *recordstore.Store
}

func New(store *recordstore.Store) *Registry {
	return &Registry{store: store}
}

// Cost returns the minimum deposit a write must carry.
func (r *Registry) Cost() record.Amount {
	return r.store.Cost()
}

// Set writes a record of the given kind for the caller's own account.
func (r *Registry) Set(ctx context.Context, c Caller, kind record.Kind, value string) (record.Action, error) {
	return r.store.Set(ctx, kind, c.Account, c.Deposit, value)
}

// Get reads a record of the given kind for any account.
func (r *Registry) Get(ctx context.Context, kind record.Kind, account record.Owner) (string, error) {
	return r.store.Get(ctx, kind, account)
}

// Lookup is Get with a presence flag.
func (r *Registry) Lookup(ctx context.Context, kind record.Kind, account record.Owner) (string, bool, error) {
	return r.store.Lookup(ctx, kind, account)
}

func (r *Registry) SetA(ctx context.Context, c Caller, value string) error {
	_, err := r.Set(ctx, c, record.A, value)
	return err
}

func (r *Registry) SetAAAA(ctx context.Context, c Caller, value string) error {
	_, err := r.Set(ctx, c, record.AAAA, value)
	return err
}

func (r *Registry) SetContentHash(ctx context.Context, c Caller, value string) error {
	_, err := r.Set(ctx, c, record.ContentHash, value)
	return err
}

func (r *Registry) SetTXT(ctx context.Context, c Caller, value string) error {
	_, err := r.Set(ctx, c, record.TXT, value)
	return err
}

func (r *Registry) GetA(ctx context.Context, account record.Owner) (string, error) {
	return r.Get(ctx, record.A, account)
}

func (r *Registry) GetAAAA(ctx context.Context, account record.Owner) (string, error) {
	return r.Get(ctx, record.AAAA, account)
}

func (r *Registry) GetContentHash(ctx context.Context, account record.Owner) (string, error) {
	return r.Get(ctx, record.ContentHash, account)
}

func (r *Registry) GetTXT(ctx context.Context, account record.Owner) (string, error) {
	return r.Get(ctx, record.TXT, account)
}

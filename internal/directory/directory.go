package directory

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tahmid-hasan/schedly/internal/model"
)

// Source is the account store the directory reads from.
type Source interface {
	FindAccount(ctx context.Context, id string) (model.Account, error)
	ListAccountsByRole(ctx context.Context, role model.Role) ([]model.Account, error)
}

// Directory is the read-only account lookup used for business listings and
// ownership checks. Accounts are immutable after registration, so resolved
// entries are cached in an LRU keyed by id; listings are not cached because
// they grow with every registration.
type Directory struct {
	source Source
	cache  *lru.Cache[string, model.Account]
}

func New(source Source, cacheSize int) (*Directory, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, model.Account](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Directory{source: source, cache: cache}, nil
}

func (d *Directory) Resolve(ctx context.Context, id string) (model.Account, error) {
	if acct, ok := d.cache.Get(id); ok {
		return acct, nil
	}
	acct, err := d.source.FindAccount(ctx, id)
	if err != nil {
		return model.Account{}, err
	}
	d.cache.Add(id, acct)
	return acct, nil
}

func (d *Directory) FindBusinesses(ctx context.Context) ([]model.AccountSummary, error) {
	accts, err := d.source.ListAccountsByRole(ctx, model.RoleBusiness)
	if err != nil {
		return nil, err
	}
	out := make([]model.AccountSummary, 0, len(accts))
	for _, acct := range accts {
		out = append(out, acct.Summary())
	}
	return out, nil
}

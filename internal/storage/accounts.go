package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tahmid-hasan/schedly/libs/db"

	"github.com/tahmid-hasan/schedly/internal/model"
)

type AccountRepository struct {
	pool *db.Pool
}

func NewAccountRepository(pool *db.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) CreateAccount(ctx context.Context, acct model.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (id, name, email, phone, role, business_name, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, acct.ID, acct.Name, strings.ToLower(acct.Email), acct.Phone, string(acct.Role), acct.BusinessName, acct.PasswordHash)
	if isUniqueViolation(err) {
		return model.ErrDuplicateEmail
	}
	return err
}

func (r *AccountRepository) FindAccount(ctx context.Context, id string) (model.Account, error) {
	return r.scanOne(ctx, `WHERE id = $1`, id)
}

func (r *AccountRepository) FindAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	return r.scanOne(ctx, `WHERE email = $1`, strings.ToLower(email))
}

func (r *AccountRepository) ListAccountsByRole(ctx context.Context, role model.Role) ([]model.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, email, phone, role, business_name, password_hash, created_at
		FROM accounts
		WHERE role = $1
		ORDER BY name ASC
	`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accts []model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accts = append(accts, acct)
	}
	return accts, rows.Err()
}

func (r *AccountRepository) scanOne(ctx context.Context, where string, arg any) (model.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id::text, name, email, phone, role, business_name, password_hash, created_at
		FROM accounts `+where, arg)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, model.ErrNotFound
	}
	return acct, err
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var acct model.Account
	var role string
	err := row.Scan(&acct.ID, &acct.Name, &acct.Email, &acct.Phone, &role, &acct.BusinessName, &acct.PasswordHash, &acct.CreatedAt)
	acct.Role = model.Role(role)
	return acct, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isOverlapViolation matches the appointments exclusion constraint
// (btree_gist over business day intervals).
func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

package store

import (
	"context"
	"fmt"
)

type accountRepo struct {
	pool PgxPool
}

// ListLinked returns every Google account whose user opted into calendar
// mirroring. Accounts without a refresh token are returned with an empty one.
func (r *accountRepo) ListLinked(ctx context.Context) ([]Account, error) {
	defer observeDB(ctx, "accounts.list_linked")()

	const q = `SELECT users.id, COALESCE(accounts.refresh_token, ''), COALESCE(accounts.access_token, ''),
    COALESCE(accounts.expires_at, 0)
FROM users
JOIN accounts ON accounts."userId" = users.id
WHERE users."isLinkedToCalendar" = true AND accounts.provider = 'google'
ORDER BY users.id`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query linked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.UserID, &a.RefreshToken, &a.AccessToken, &a.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepo) UpdateToken(ctx context.Context, userID, accessToken string, expiresAt int64) error {
	defer observeDB(ctx, "accounts.update_token")()

	const q = `UPDATE accounts SET access_token = $2, expires_at = $3
WHERE "userId" = $1 AND provider = 'google'`
	tag, err := r.pool.Exec(ctx, q, userID, accessToken, expiresAt)
	if err != nil {
		return fmt.Errorf("update token for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

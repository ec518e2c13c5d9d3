package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/teamsched/libs/db"
)

// CredentialRepository stores provider OAuth tokens as JSON.
type CredentialRepository struct {
	pool *db.Pool
}

func NewCredentialRepository(pool *db.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

func (r *CredentialRepository) Token(ctx context.Context, userID, provider string) ([]byte, error) {
	if err := checkID(userID); err != nil {
		return nil, err
	}
	var token []byte
	err := r.pool.QueryRow(ctx, `
		SELECT token::text
		FROM calendar_credentials
		WHERE user_id = $1 AND provider = $2
	`, userID, provider).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return token, err
}

// SaveToken keeps the latest token so refreshed access tokens survive restarts.
func (r *CredentialRepository) SaveToken(ctx context.Context, userID, provider string, token []byte) error {
	if err := checkID(userID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO calendar_credentials (user_id, provider, token)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (user_id, provider)
		DO UPDATE SET token = EXCLUDED.token, updated_at = now()
	`, userID, provider, string(token))
	return err
}

type Feed struct {
	ID  string
	URL string
}

type FeedRepository struct {
	pool *db.Pool
}

func NewFeedRepository(pool *db.Pool) *FeedRepository {
	return &FeedRepository{pool: pool}
}

func (r *FeedRepository) Feeds(ctx context.Context, userID string) ([]Feed, error) {
	if err := checkID(userID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, url
		FROM calendar_feeds
		WHERE user_id = $1 AND enabled
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Feed
	for rows.Next() {
		var f Feed
		if err := rows.Scan(&f.ID, &f.URL); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

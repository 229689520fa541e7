// stores.go - Data access for accounts and posts.
//
// Handlers and the auth gate talk to these interfaces; the Postgres
// implementations below are the only ones used in production. Tests
// substitute in-memory fakes.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Account is a registered identity.
type Account struct {
	ID           int64
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// Post is a user-authored feed entry. Attachment fields are empty when
// the post was submitted without a file.
type Post struct {
	ID               int64
	OwnerID          int64
	Description      string
	AttachmentBucket string
	AttachmentKey    string
	AttachmentETag   string
	CreatedAt        time.Time
}

// FeedItem is a post joined with its owner's name for rendering.
type FeedItem struct {
	Description   string
	CreatedAt     time.Time
	AccountName   string
	AttachmentKey string
}

// AccountStore persists accounts.
type AccountStore interface {
	Create(ctx context.Context, name, passwordHash string) (Account, error)
	ByName(ctx context.Context, name string) (Account, error)
	ByID(ctx context.Context, id int64) (Account, error)
}

// PostStore persists posts.
type PostStore interface {
	Create(ctx context.Context, p Post) (Post, error)
	Feed(ctx context.Context) ([]FeedItem, error)
	All(ctx context.Context) ([]Post, error)
}

// --- Postgres implementations ---

type pgAccountStore struct {
	db *sql.DB
}

// NewAccountStore returns the Postgres-backed AccountStore.
func NewAccountStore(db *sql.DB) AccountStore {
	return &pgAccountStore{db: db}
}

func (s *pgAccountStore) Create(ctx context.Context, name, passwordHash string) (Account, error) {
	var a Account
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO account (account_name, account_password_hash)
		VALUES ($1, $2)
		RETURNING account_id, account_name, account_password_hash, account_created_at
	`, name, passwordHash).Scan(&a.ID, &a.Name, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateAccount
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

func (s *pgAccountStore) ByName(ctx context.Context, name string) (Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT account_id, account_name, account_password_hash, account_created_at
		FROM account WHERE account_name = $1
	`, name))
}

func (s *pgAccountStore) ByID(ctx context.Context, id int64) (Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT account_id, account_name, account_password_hash, account_created_at
		FROM account WHERE account_id = $1
	`, id))
}

func (s *pgAccountStore) scanOne(row *sql.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.PasswordHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return Account{}, ErrNoAccount
	}
	if err != nil {
		return Account{}, fmt.Errorf("select account: %w", err)
	}
	return a, nil
}

type pgPostStore struct {
	db *sql.DB
}

// NewPostStore returns the Postgres-backed PostStore.
func NewPostStore(db *sql.DB) PostStore {
	return &pgPostStore{db: db}
}

func (s *pgPostStore) Create(ctx context.Context, p Post) (Post, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO post (post_owner_id, post_description,
			post_attachment_bucket, post_attachment_key, post_attachment_etag)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''))
		RETURNING post_id, post_created_at
	`, p.OwnerID, p.Description, p.AttachmentBucket, p.AttachmentKey, p.AttachmentETag).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return p, nil
}

func (s *pgPostStore) Feed(ctx context.Context) ([]FeedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT post_description, post_created_at, account_name,
			COALESCE(post_attachment_key, '')
		FROM post JOIN account ON post_owner_id = account_id
		ORDER BY post_created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("select feed: %w", err)
	}
	defer rows.Close()

	var items []FeedItem
	for rows.Next() {
		var it FeedItem
		if err := rows.Scan(&it.Description, &it.CreatedAt, &it.AccountName, &it.AttachmentKey); err != nil {
			return nil, fmt.Errorf("scan feed row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *pgPostStore) All(ctx context.Context) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id, post_owner_id, post_description,
			COALESCE(post_attachment_bucket, ''),
			COALESCE(post_attachment_key, ''),
			COALESCE(post_attachment_etag, ''),
			post_created_at
		FROM post
		ORDER BY post_created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("select posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Description,
			&p.AttachmentBucket, &p.AttachmentKey, &p.AttachmentETag, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post row: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

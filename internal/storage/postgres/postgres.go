package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"beatsync/internal/config"
	"beatsync/internal/models"
	"beatsync/internal/storage"
)

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

// SaveUser inserts a local-credential user. passHash may be nil for
// OAuth-originated accounts.
func (r *PostgresRepo) SaveUser(ctx context.Context, email, username string, passHash []byte) (string, error) {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (id, email, username, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id;
	`

	var id string

	err := r.pool.QueryRow(ctx, query, uuid.NewString(), strings.ToLower(email), username, passHash).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "username") {
				return "", storage.ErrUsernameExists
			}
			return "", storage.ErrEmailExists
		}

		return "", fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return id, nil
}

func (r *PostgresRepo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `
		SELECT id, email, username, password_hash, spotify_connected, google_connected, created_at
		FROM users
		WHERE email = $1;
	`

	return r.scanUser(r.pool.QueryRow(ctx, query, strings.ToLower(email)))
}

func (r *PostgresRepo) UserByID(ctx context.Context, id string) (models.User, error) {
	query := `
		SELECT id, email, username, password_hash, spotify_connected, google_connected, created_at
		FROM users
		WHERE id = $1;
	`

	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// SetServiceLinked sets the linked flag for one service on one user. The
// update is a self-contained idempotent field set; no locking is needed.
func (r *PostgresRepo) SetServiceLinked(ctx context.Context, id, service string, linked bool) error {
	const op = "storage.postgres.SetServiceLinked"

	var query string
	switch service {
	case models.ServiceSpotify:
		query = `UPDATE users SET spotify_connected = $1 WHERE id = $2`
	case models.ServiceGoogle:
		query = `UPDATE users SET google_connected = $1 WHERE id = $2`
	default:
		return storage.ErrUnknownService
	}

	tag, err := r.pool.Exec(ctx, query, linked, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (r *PostgresRepo) scanUser(row pgx.Row) (models.User, error) {
	var u models.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PassHash,
		&u.Spotify,
		&u.Google,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, err
	}

	return u, nil
}

// Close releases the underlying connection pool.
func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func dsn(cfg *config.Config) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}

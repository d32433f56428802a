package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/genrelay/internal/host"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Document nodes ---

func (s *PostgresStore) CreateNode(ctx context.Context, nodeType string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO document_nodes (id, node_type) VALUES ($1, $2)`, id, nodeType)
	if err != nil {
		return "", fmt.Errorf("create node: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) NodeType(ctx context.Context, id string) (string, error) {
	var nodeType string
	err := s.pool.QueryRow(ctx,
		`SELECT node_type FROM document_nodes WHERE id = $1`, id).Scan(&nodeType)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", host.ErrNodeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get node type: %w", err)
	}
	return nodeType, nil
}

func (s *PostgresStore) GetAttribute(ctx context.Context, id, key string) (string, bool, error) {
	var value *string
	err := s.pool.QueryRow(ctx,
		`SELECT a.value
		 FROM document_nodes n
		 LEFT JOIN node_attributes a ON a.node_id = n.id AND a.key = $2
		 WHERE n.id = $1`, id, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, host.ErrNodeNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("get attribute %s: %w", key, err)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

func (s *PostgresStore) SetAttribute(ctx context.Context, id, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO node_attributes (node_id, key, value, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (node_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		id, key, value)
	if err != nil {
		if isForeignKeyError(err) {
			return host.ErrNodeNotFound
		}
		return fmt.Errorf("set attribute %s: %w", key, err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE document_nodes SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch node: %w", err)
	}
	return nil
}

func (s *PostgresStore) Attributes(ctx context.Context, id string) (map[string]string, error) {
	if _, err := s.NodeType(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM node_attributes WHERE node_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		attrs[k] = v
	}
	return attrs, rows.Err()
}

func (s *PostgresStore) ListNodes(ctx context.Context, nodeType string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM document_nodes
		 WHERE $1 = '' OR node_type = $1
		 ORDER BY created_at, id`, nodeType)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

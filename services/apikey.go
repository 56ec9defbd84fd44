package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/Vivekb0311/sla/db"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyService issues and verifies machine credentials. Keys are shown once
// at creation and stored only as bcrypt hashes.
type APIKeyService struct {
	PG *sql.DB
}

func NewAPIKeyService(pg *sql.DB) *APIKeyService {
	return &APIKeyService{PG: pg}
}

// CreateKey mints a new key and returns the plaintext alongside the record.
func (s *APIKeyService) CreateKey(ctx context.Context, name, createdBy string) (*db.APIKey, string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generating key material: %w", err)
	}
	plaintext := "sla_" + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing key: %w", err)
	}

	key := &db.APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   string(hash),
		CreatedBy: createdBy,
		IsActive:  true,
	}
	err = s.PG.QueryRowContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, created_by, is_active, created_at)
		VALUES ($1, $2, $3, $4, true, NOW())
		RETURNING created_at`,
		key.ID, key.Name, key.KeyHash, key.CreatedBy,
	).Scan(&key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("inserting api key: %w", err)
	}

	log.Printf("Created API key %q (%s)", name, key.ID)
	return key, plaintext, nil
}

// ValidateKey checks a presented token against every active key hash and
// returns the matching record.
func (s *APIKeyService) ValidateKey(ctx context.Context, token string) (*db.APIKey, error) {
	rows, err := s.PG.QueryContext(ctx,
		`SELECT id, name, key_hash, created_by, last_used_at, is_active, created_at FROM api_keys WHERE is_active = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key db.APIKey
		var lastUsed sql.NullTime
		if err := rows.Scan(&key.ID, &key.Name, &key.KeyHash, &key.CreatedBy, &lastUsed, &key.IsActive, &key.CreatedAt); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			key.LastUsedAt = &lastUsed.Time
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(token)) == nil {
			return &key, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("invalid api key")
}

// UpdateLastUsed stamps the key's last use; called async from the middleware.
func (s *APIKeyService) UpdateLastUsed(id string) error {
	_, err := s.PG.Exec(`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}

// RevokeKey deactivates a key.
func (s *APIKeyService) RevokeKey(ctx context.Context, id string) error {
	_, err := s.PG.ExecContext(ctx, `UPDATE api_keys SET is_active = false WHERE id = $1`, id)
	return err
}

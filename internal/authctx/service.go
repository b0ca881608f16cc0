package authctx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Service issues and verifies API tokens. A pepper from configuration is
// mixed into the hashed secret so a database leak alone cannot forge tokens.
type Service struct {
	pool   *pgxpool.Pool
	pepper string
}

// NewService constructs Service.
func NewService(pool *pgxpool.Pool, pepper string) *Service {
	return &Service{pool: pool, pepper: pepper}
}

// IssueToken creates a token for a user and returns the plaintext credential
// in "id.secret" form. The plaintext is not recoverable afterwards.
func (s *Service) IssueToken(ctx context.Context, userID, companyID, warehouseID int64, name string) (string, APIToken, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", APIToken{}, err
	}
	secret := hex.EncodeToString(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret+s.pepper), bcrypt.DefaultCost)
	if err != nil {
		return "", APIToken{}, err
	}

	token := APIToken{UserID: userID, CompanyID: companyID, WarehouseID: warehouseID, Name: name, SecretHash: string(hash)}
	err = s.pool.QueryRow(ctx, `INSERT INTO api_tokens (user_id, company_id, warehouse_id, name, secret_hash, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())
RETURNING id, created_at`, userID, companyID, warehouseID, name, token.SecretHash).
		Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return "", APIToken{}, err
	}
	return fmt.Sprintf("%d.%s", token.ID, secret), token, nil
}

// RevokeToken marks a token revoked.
func (s *Service) RevokeToken(ctx context.Context, companyID, tokenID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_tokens SET revoked_at=NOW()
WHERE id=$1 AND company_id=$2 AND revoked_at IS NULL`, tokenID, companyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// Verify checks a plaintext credential and returns the matching token row.
func (s *Service) Verify(ctx context.Context, credential string) (APIToken, error) {
	id, secret, err := splitCredential(credential)
	if err != nil {
		return APIToken{}, err
	}
	token, err := s.getToken(ctx, id)
	if err != nil {
		return APIToken{}, err
	}
	if token.Revoked() {
		return APIToken{}, ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret+s.pepper)); err != nil {
		return APIToken{}, ErrInvalidToken
	}
	// best effort; a failed touch never blocks the request
	_, _ = s.pool.Exec(ctx, `UPDATE api_tokens SET last_used_at=NOW() WHERE id=$1`, token.ID)
	return token, nil
}

func (s *Service) getToken(ctx context.Context, id int64) (APIToken, error) {
	var token APIToken
	err := s.pool.QueryRow(ctx, `SELECT id, user_id, company_id, warehouse_id, name, secret_hash, created_at, last_used_at, revoked_at
FROM api_tokens WHERE id=$1`, id).
		Scan(&token.ID, &token.UserID, &token.CompanyID, &token.WarehouseID, &token.Name, &token.SecretHash, &token.CreatedAt, &token.LastUsedAt, &token.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return APIToken{}, ErrTokenNotFound
		}
		return APIToken{}, err
	}
	return token, nil
}

func splitCredential(credential string) (int64, string, error) {
	idPart, secret, ok := strings.Cut(strings.TrimSpace(credential), ".")
	if !ok || secret == "" {
		return 0, "", ErrInvalidToken
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", ErrInvalidToken
	}
	return id, secret, nil
}

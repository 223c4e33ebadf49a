package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

// CredentialRepo reads stored provider refresh tokens. Tokens live as
// ciphertext; only the dispatcher ever decrypts one.
type CredentialRepo struct{ Pool PgxPool }

// NewCredentialRepo constructs a CredentialRepo with the given pool.
func NewCredentialRepo(p PgxPool) *CredentialRepo { return &CredentialRepo{Pool: p} }

const credentialsTable = "public.provider_credentials"

// HasRefreshToken reports whether a non-empty refresh credential exists for
// the user.
func (r *CredentialRepo) HasRefreshToken(ctx domain.Context, uid string) (bool, error) {
	tracer := otel.Tracer("repo.credentials")
	ctx, span := tracer.Start(ctx, "credentials.HasRefreshToken")
	defer span.End()
	q := `SELECT EXISTS (SELECT 1 FROM ` + credentialsTable + ` WHERE user_uid = $1 AND refresh_token_enc IS NOT NULL)`
	var exists bool
	if err := r.Pool.QueryRow(ctx, q, uid).Scan(&exists); err != nil {
		return false, fmt.Errorf("op=credentials.has_refresh_token: %w", err)
	}
	return exists, nil
}

// RefreshToken returns the refresh credential ciphertext for the user.
func (r *CredentialRepo) RefreshToken(ctx domain.Context, uid string) ([]byte, error) {
	tracer := otel.Tracer("repo.credentials")
	ctx, span := tracer.Start(ctx, "credentials.RefreshToken")
	defer span.End()
	q := `SELECT refresh_token_enc FROM ` + credentialsTable + ` WHERE user_uid = $1`
	var enc []byte
	if err := r.Pool.QueryRow(ctx, q, uid).Scan(&enc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("op=credentials.refresh_token: %w", domain.ErrNoCredential)
		}
		return nil, fmt.Errorf("op=credentials.refresh_token: %w", err)
	}
	if len(enc) == 0 {
		return nil, fmt.Errorf("op=credentials.refresh_token: empty: %w", domain.ErrNoCredential)
	}
	return enc, nil
}

package repository

import (
	"context"
	"fmt"
)

// EnvVarRepository loads per-user environment variables. Values are
// encrypted at rest with a per-variable salt; LoadEnvironmentVariables
// returns plaintext for use inside a run only. Masking happens at the
// HTTP boundary.
type EnvVarRepository struct {
	db      Querier
	secrets *SecretBox
}

// NewEnvVarRepository creates an environment variable repository.
func NewEnvVarRepository(db Querier, secrets *SecretBox) *EnvVarRepository {
	return &EnvVarRepository{db: db, secrets: secrets}
}

// LoadEnvironmentVariables returns the decrypted variables for a user.
func (r *EnvVarRepository) LoadEnvironmentVariables(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, salt, ciphertext FROM environment_variables WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load environment variables for %s: %w", userID, err)
	}
	defer rows.Close()

	vars := make(map[string]string)
	for rows.Next() {
		var name string
		var salt, ciphertext []byte
		if err := rows.Scan(&name, &salt, &ciphertext); err != nil {
			return nil, fmt.Errorf("scan environment variable: %w", err)
		}
		plaintext, err := r.secrets.Open(ciphertext, salt)
		if err != nil {
			return nil, fmt.Errorf("decrypt environment variable %s: %w", name, err)
		}
		vars[name] = string(plaintext)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate environment variables: %w", err)
	}
	return vars, nil
}

// SaveEnvironmentVariable encrypts and upserts one variable with a fresh
// per-variable salt.
func (r *EnvVarRepository) SaveEnvironmentVariable(ctx context.Context, userID, name, value string) error {
	salt, ciphertext, err := r.secrets.Seal([]byte(value))
	if err != nil {
		return fmt.Errorf("encrypt environment variable %s: %w", name, err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO environment_variables (user_id, name, salt, ciphertext)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id, name) DO UPDATE SET salt = $3, ciphertext = $4`,
		userID, name, salt, ciphertext,
	)
	if err != nil {
		return fmt.Errorf("save environment variable %s: %w", name, err)
	}
	return nil
}

// MaskValue renders a secret for boundary GETs: first character plus
// asterisks, empty values stay empty.
func MaskValue(value string) string {
	if value == "" {
		return ""
	}
	masked := []rune{[]rune(value)[0]}
	for i := 1; i < len([]rune(value)); i++ {
		masked = append(masked, '*')
	}
	return string(masked)
}

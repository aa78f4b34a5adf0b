package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"botfleet/internal/auth"
	"botfleet/internal/models"
)

const (
	RoleAdmin    = auth.RoleAdmin
	RoleOperator = auth.RoleOperator
)

func CreateOperator(ctx context.Context, database *sql.DB, name, role, apiKeyHash string) error {
	if role != RoleAdmin && role != RoleOperator {
		return fmt.Errorf("unknown operator role %q", role)
	}
	_, err := database.ExecContext(
		ctx,
		`INSERT INTO operators (name, api_key, role, created) VALUES (?, ?, ?, ?)`,
		name, apiKeyHash, role, nowString(),
	)
	return err
}

func ListOperators(ctx context.Context, database *sql.DB) ([]models.Operator, error) {
	rows, err := database.QueryContext(ctx, `
SELECT name, role, created, last_active
FROM operators
ORDER BY created ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Operator, 0)
	for rows.Next() {
		var o models.Operator
		if err := rows.Scan(&o.Name, &o.Role, &o.Created, &o.LastActive); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func DeleteOperator(ctx context.Context, database *sql.DB, name string) error {
	res, err := database.ExecContext(ctx, `DELETE FROM operators WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func CountAdmins(ctx context.Context, database *sql.DB) (int, error) {
	var count int
	if err := database.QueryRowContext(ctx, `SELECT COUNT(1) FROM operators WHERE role = 'admin'`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func GetOperatorByAPIKeyHash(ctx context.Context, database *sql.DB, apiKeyHash string) (*models.Operator, error) {
	var o models.Operator
	err := database.QueryRowContext(ctx, `
SELECT name, role, created, last_active
FROM operators
WHERE api_key = ?`, apiKeyHash).
		Scan(&o.Name, &o.Role, &o.Created, &o.LastActive)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func TouchOperator(ctx context.Context, database *sql.DB, name string) error {
	_, err := database.ExecContext(ctx, `UPDATE operators SET last_active = ? WHERE name = ?`, nowString(), name)
	return err
}

// EnsureBootstrapAdmin creates the first admin operator when none exists and
// writes its key to keyOutPath. It returns "" when an admin already exists.
func EnsureBootstrapAdmin(ctx context.Context, database *sql.DB, keyOutPath string) (string, error) {
	count, err := CountAdmins(ctx, database)
	if err != nil {
		return "", fmt.Errorf("count admins: %w", err)
	}
	if count > 0 {
		return "", nil
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return "", err
	}
	const name = "admin"
	if err := CreateOperator(ctx, database, name, RoleAdmin, auth.HashAPIKey(apiKey)); err != nil {
		return "", fmt.Errorf("create bootstrap admin: %w", err)
	}

	if err := os.WriteFile(keyOutPath, []byte(apiKey+"\n"), 0o600); err != nil {
		if delErr := DeleteOperator(ctx, database, name); delErr != nil && !errors.Is(delErr, sql.ErrNoRows) {
			return "", fmt.Errorf("write key failed (%v), rollback failed (%v)", err, delErr)
		}
		return "", fmt.Errorf("write admin key file: %w", err)
	}

	return name, nil
}

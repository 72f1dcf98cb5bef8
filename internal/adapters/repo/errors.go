package repo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"companion-bot/internal/domain"
)

// classify переводит ошибки pgx в доменные: недоступность хранилища становится TransientStoreError,
// нарушение уникальности становится ErrConflict.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w", op, domain.ErrConflict)
		case transientCode(pgErr.Code):
			return &domain.TransientStoreError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientStoreError{Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.TransientStoreError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// transientCode — классы ошибок Postgres, после которых операцию можно повторить.
func transientCode(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"), strings.HasPrefix(code, "53"):
		return true
	case code == "40001", code == "40P01":
		return true
	}
	return false
}

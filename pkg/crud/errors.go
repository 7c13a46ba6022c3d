package crud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAmbiguousMatch       = errors.New("more than one row matches")
	ErrReferencedRowMissing = errors.New("referenced row missing")
	ErrAmbiguousReference   = errors.New("reference matches more than one row")
	ErrCyclicReference      = errors.New("cyclic reference")
	ErrValidation           = errors.New("validation failed")
	ErrConstraintViolation  = errors.New("constraint violation")
	ErrDatabaseUnavailable  = errors.New("database unavailable")
)

// classify maps driver errors onto the package sentinels, keeping the
// original error in the chain. Errors it does not recognise pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := pgErr.Code
		if len(class) > 2 {
			class = class[:2]
		}
		metrics.DatabaseErrors.WithLabelValues(class).Inc()

		switch {
		case class == "23":
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		case class == "22":
			return fmt.Errorf("%w: %w", ErrValidation, err)
		case class == "08", strings.HasPrefix(pgErr.Code, "57P0"), class == "53":
			return fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, net.ErrClosed),
		pgconn.Timeout(err):
		metrics.DatabaseErrors.WithLabelValues("connection").Inc()
		return fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
	}
	return err
}

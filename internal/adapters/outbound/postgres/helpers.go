package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
)

// rollback rolls back the transaction and logs the error if it is not pgx.ErrTxClosed.
func rollback(ctx context.Context, tx pgx.Tx, logger *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Error("failed to rollback transaction", "error", err)
	}
}

// writeValues appends "($1, $2, ...), (...)" placeholders for rows x cols parameters.
func writeValues(sb *strings.Builder, rows, cols int) {
	for i := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range cols {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "$%d", i*cols+j+1)
		}
		sb.WriteByte(')')
	}
}

// nonNil returns an empty slice for nil so TEXT[] NOT NULL columns accept it.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package postgres

import (
	"database/sql"
	"fmt"

	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

func expectOne(result sql.Result, resource string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFound(resource, nil)
	}
	return nil
}

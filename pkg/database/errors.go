package database

import (
	stderrors "errors"
	"strings"

	"github.com/lib/pq"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError.
// Returns nil if err does not wrap a pq.Error or the code is not handled.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case "23514": // check_violation
		return mapCheckConstraint(pqErr)

	case "23505": // unique_violation
		return mapUniqueConstraint(pqErr)

	case "23503": // foreign_key_violation
		return errors.BadRequest("referenced record does not exist")

	case "23502": // not_null_violation
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{col: "must not be empty"})

	case "40001": // serialization_failure
		return errors.ConcurrentUpdate("serialization_failure")

	case "40P01": // deadlock_detected
		return errors.ConcurrentUpdate("deadlock_detected")

	case "22P02": // invalid_text_representation, e.g. a malformed uuid
		return errors.Validation(map[string]string{"id": "malformed identifier"})

	default:
		return nil
	}
}

// MapError maps err through MapPQError and returns the original error when unmapped.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if appErr := MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "lots_quantity_nonnegative"):
		return errors.InvalidState("lot quantity would become negative", map[string]string{"constraint": constraint})
	case strings.Contains(constraint, "products_on_hand_nonnegative"):
		return errors.InvalidState("product on-hand would become negative", map[string]string{"constraint": constraint})
	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{"status": "invalid status value"})
	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func mapUniqueConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "dispense_records_prescription"):
		return errors.InvalidState("prescription already dispensed", map[string]string{"constraint": constraint})
	case strings.Contains(constraint, "lots_natural_key"):
		return errors.Conflict("a lot with this batch number already exists for the product")
	case strings.Contains(constraint, "invoices_number"):
		return errors.Conflict("invoice number already exists")
	default:
		return errors.Conflict("a record with these values already exists")
	}
}

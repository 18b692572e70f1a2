package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kir-bot/internal/model"
)

// loanLegQuery applies one side of a loan.
const loanLegQuery = `
	UPDATE players
	SET kir = kir + $3, updated_at = NOW()
	WHERE user_id = $1 AND group_id = $2
	RETURNING kir
`

// Loan moves amount from lender to borrower and appends a loan record, in one
// transaction. The lender's balance is not checked and may go negative.
func (r *PlayerRepository) Loan(ctx context.Context, lender, borrower model.Identity, amount int64) (*model.Player, *model.Player, *model.Loan, error) {
	const insertLoan = `
		INSERT INTO loans (lender_id, borrower_id, group_id, amount, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, lender_id, borrower_id, group_id, amount, created_at
	`

	var lenderAfter, borrowerAfter *model.Player
	var loan model.Loan

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var lenderKir, borrowerKir int64
		if err := tx.QueryRow(ctx, loanLegQuery, lender.UserID, lender.GroupID, -amount).Scan(&lenderKir); err != nil {
			return notFound(err, "charge lender")
		}
		if err := tx.QueryRow(ctx, loanLegQuery, borrower.UserID, borrower.GroupID, amount).Scan(&borrowerKir); err != nil {
			return notFound(err, "credit borrower")
		}

		var err error
		if lenderAfter, err = recordExtremum(ctx, tx, lender, lenderKir); err != nil {
			return err
		}
		if borrowerAfter, err = recordExtremum(ctx, tx, borrower, borrowerKir); err != nil {
			return err
		}

		err = tx.QueryRow(ctx, insertLoan, lender.UserID, borrower.UserID, lender.GroupID, amount).Scan(
			&loan.ID,
			&loan.LenderID,
			&loan.BorrowerID,
			&loan.GroupID,
			&loan.Amount,
			&loan.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record loan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return lenderAfter, borrowerAfter, &loan, nil
}

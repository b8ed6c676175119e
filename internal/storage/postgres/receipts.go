package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hongminglow/accounts/internal/models"
	"github.com/hongminglow/accounts/internal/storage"
)

type receiptRepo repositories

// Create inserts the receipt. The conflict is resolved in SQL so a duplicate
// does not abort the surrounding transaction.
func (r receiptRepo) Create(ctx context.Context, receipt *models.EmailReceipt) error {
	const query = `
		INSERT INTO email_receipts (id, user_id, email_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, email_type) DO NOTHING`

	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	receipt.Touch(repositories(r).stamp())
	tag, err := r.db.Exec(ctx, query, receipt.ID, receipt.UserID, int16(receipt.EmailType), receipt.CreatedAt, receipt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrAlreadyExists
	}
	return nil
}

func (r receiptRepo) Exists(ctx context.Context, userID uuid.UUID, emailType models.EmailType) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM email_receipts WHERE user_id = $1 AND email_type = $2)`

	var ok bool
	if err := r.db.QueryRow(ctx, query, userID, int16(emailType)).Scan(&ok); err != nil {
		return false, fmt.Errorf("check receipt: %w", err)
	}
	return ok, nil
}

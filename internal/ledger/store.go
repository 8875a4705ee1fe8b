package ledger

import (
	"context"
	"errors"

	"github.com/marketpulse/simulator/pkg/models"
)

// ErrNotFound is returned by Load when no account exists for the id.
var ErrNotFound = errors.New("account not found")

// Store is the durable boundary for user accounts.
type Store interface {
	Load(ctx context.Context, userID string) (*models.UserAccount, error)
	Save(ctx context.Context, acct *models.UserAccount) error
	Close() error
}

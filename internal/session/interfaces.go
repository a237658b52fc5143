package session

import (
	"context"

	"github.com/yussieik/pazpaz-sub021/internal/models"
)

// SettingsStore is the remote settings API as the controller sees it. The
// caller's user and workspace identity live inside the store implementation.
type SettingsStore interface {
	// FetchSettings returns the full current record.
	FetchSettings(ctx context.Context) (*models.NotificationSettings, error)

	// PersistSettings writes the full record and returns the server's
	// canonical copy.
	PersistSettings(ctx context.Context, record *models.NotificationSettings) (*models.NotificationSettings, error)
}

// Notifier is the toast surface owned by the consumer. Implementations must
// tolerate being called from a timer goroutine.
type Notifier interface {
	ShowError(message string)
	ShowSuccess(message string)
}

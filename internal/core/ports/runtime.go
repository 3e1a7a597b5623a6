package ports

import (
	"context"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based with hot reload.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// EventSink receives structured error events from the error interceptor.
// Delivery is best-effort: a failing sink never fails the request.
type EventSink interface {
	Report(ctx context.Context, event domain.Event) error
}

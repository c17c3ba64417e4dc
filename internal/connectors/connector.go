// Package connectors defines the interface to the external cloud anchor service.
package connectors

import (
	"context"
	"errors"

	"github.com/marimax/cloudanchor/internal/models"
)

// ErrInvalidRequest is returned when an operation cannot be submitted at all.
var ErrInvalidRequest = errors.New("invalid anchor service request")

// AnchorService is the cloud anchor service. Operations are submitted and
// then polled; the service never pushes results.
type AnchorService interface {
	// Name returns the connector identifier.
	Name() string

	// HostCloudAnchor uploads a local anchor and returns a handle to poll.
	HostCloudAnchor(ctx context.Context, pose models.Pose) (models.Handle, error)

	// ResolveCloudAnchor re-locates a hosted anchor by its cloud anchor ID.
	ResolveCloudAnchor(ctx context.Context, cloudAnchorID string) (models.Handle, error)

	// State returns the current state of the operation behind h.
	// Unknown handles report StateNone.
	State(h models.Handle) models.CloudAnchorState

	// CloudAnchorID returns the cloud anchor ID of a finished operation.
	CloudAnchorID(h models.Handle) string
}

// Releaser is implemented by services that keep per-operation state. Release
// is called once the result behind h has been delivered.
type Releaser interface {
	Release(h models.Handle)
}

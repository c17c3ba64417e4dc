// Package models defines the core domain types for cloudanchor.
package models

import (
	"strconv"
	"time"
)

// Code is a short numeric proxy for a long cloud anchor ID.
type Code int64

// String returns the decimal form of the code.
func (c Code) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// Valid reports whether c can have been issued by an allocator.
func (c Code) Valid() bool {
	return c > 0
}

// ParseCode parses a decimal short code.
func ParseCode(s string) (Code, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Code(n), nil
}

// AnchorRecord associates a short code with a cloud anchor ID.
type AnchorRecord struct {
	Code     Code   `json:"code"`
	AnchorID string `json:"anchor_id"`
}

// Handle identifies one in-flight host or resolve operation.
type Handle string

// TaskKind says whether a tracked operation hosts or resolves an anchor.
type TaskKind string

const (
	TaskKindHost    TaskKind = "host"
	TaskKindResolve TaskKind = "resolve"
)

// CloudAnchorState represents the state of a cloud anchor operation.
type CloudAnchorState string

const (
	StateNone                           CloudAnchorState = "NONE"
	StateTaskInProgress                 CloudAnchorState = "TASK_IN_PROGRESS"
	StateSuccess                        CloudAnchorState = "SUCCESS"
	StateErrorInternal                  CloudAnchorState = "ERROR_INTERNAL"
	StateErrorNotAuthorized             CloudAnchorState = "ERROR_NOT_AUTHORIZED"
	StateErrorServiceUnavailable        CloudAnchorState = "ERROR_SERVICE_UNAVAILABLE"
	StateErrorResourceExhausted         CloudAnchorState = "ERROR_RESOURCE_EXHAUSTED"
	StateErrorHostingDatasetProcessing  CloudAnchorState = "ERROR_HOSTING_DATASET_PROCESSING_FAILED"
	StateErrorCloudIDNotFound           CloudAnchorState = "ERROR_CLOUD_ID_NOT_FOUND"
	StateErrorResolvingSDKVersionTooOld CloudAnchorState = "ERROR_RESOLVING_SDK_VERSION_TOO_OLD"
	StateErrorResolvingSDKVersionTooNew CloudAnchorState = "ERROR_RESOLVING_SDK_VERSION_TOO_NEW"
	StateErrorHostingServiceUnavailable CloudAnchorState = "ERROR_HOSTING_SERVICE_UNAVAILABLE"

	// StateTaskTimedOut is produced locally when an operation outlives its deadline.
	StateTaskTimedOut CloudAnchorState = "TASK_TIMED_OUT"
)

// IsReturnable reports whether the state is terminal and can be handed to a listener.
// NONE and TASK_IN_PROGRESS are the only states that are not.
func (s CloudAnchorState) IsReturnable() bool {
	switch s {
	case StateNone, StateTaskInProgress, "":
		return false
	default:
		return true
	}
}

// IsError reports whether the state is a returnable failure.
func (s CloudAnchorState) IsError() bool {
	return s.IsReturnable() && s != StateSuccess
}

// Pose is the position and orientation of a local anchor.
type Pose struct {
	Position [3]float32 `json:"position"`
	Rotation [4]float32 `json:"rotation"` // quaternion x, y, z, w
}

// IdentityPose returns the pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Rotation: [4]float32{0, 0, 0, 1}}
}

// TaskResult is delivered to a listener when a cloud anchor operation finishes.
type TaskResult struct {
	Handle        Handle           `json:"handle"`
	Kind          TaskKind         `json:"kind"`
	State         CloudAnchorState `json:"state"`
	CloudAnchorID string           `json:"cloud_anchor_id,omitempty"`
}

// Versioned is one entry of the shared versioned key-value store.
// Version 0 means the key does not exist.
type Versioned struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Subject    string    `json:"subject,omitempty"` // key or short code the action touched
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

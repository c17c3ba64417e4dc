// Package simulated provides an in-process cloud anchor service.
//
// Operations finish after a fixed number of State polls. Hosted anchors get
// "ua-" prefixed IDs and can be resolved from any client sharing the Service.
package simulated

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/marimax/cloudanchor/internal/connectors"
	"github.com/marimax/cloudanchor/internal/models"
)

// DefaultPollsToComplete is the number of State polls an operation spends in progress.
const DefaultPollsToComplete = 3

// Options configures the simulated service.
type Options struct {
	// PollsToComplete in-progress polls precede the terminal state. Zero means
	// DefaultPollsToComplete; a negative value finishes on the first poll.
	PollsToComplete int `yaml:"polls_to_complete"`
	// AcceptForeignIDs resolves IDs this service never hosted instead of
	// reporting ERROR_CLOUD_ID_NOT_FOUND.
	AcceptForeignIDs bool `yaml:"accept_foreign_ids"`
}

type operation struct {
	kind      models.TaskKind
	state     models.CloudAnchorState
	pollsLeft int
	anchorID  string
	pose      models.Pose
}

// Service implements connectors.AnchorService.
type Service struct {
	mu     sync.Mutex
	opts   Options
	ops    map[models.Handle]*operation
	hosted map[string]models.Pose
	log    logr.Logger
}

var (
	_ connectors.AnchorService = (*Service)(nil)
	_ connectors.Releaser      = (*Service)(nil)
)

// New creates a simulated service.
func New(opts Options, log logr.Logger) *Service {
	if opts.PollsToComplete < 0 {
		opts.PollsToComplete = 0
	} else if opts.PollsToComplete == 0 {
		opts.PollsToComplete = DefaultPollsToComplete
	}
	return &Service{
		opts:   opts,
		ops:    make(map[models.Handle]*operation),
		hosted: make(map[string]models.Pose),
		log:    log.WithName("simulated"),
	}
}

// Name returns the connector identifier.
func (s *Service) Name() string {
	return "simulated"
}

func (s *Service) HostCloudAnchor(ctx context.Context, pose models.Pose) (models.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.submit(&operation{kind: models.TaskKindHost, pose: pose}), nil
}

func (s *Service) ResolveCloudAnchor(ctx context.Context, cloudAnchorID string) (models.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cloudAnchorID = strings.TrimSpace(cloudAnchorID)
	if cloudAnchorID == "" {
		return "", fmt.Errorf("%w: empty cloud anchor id", connectors.ErrInvalidRequest)
	}
	return s.submit(&operation{kind: models.TaskKindResolve, anchorID: cloudAnchorID}), nil
}

func (s *Service) submit(op *operation) models.Handle {
	h := models.Handle(uuid.New().String())
	op.state = models.StateTaskInProgress
	op.pollsLeft = s.opts.PollsToComplete

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[h] = op
	s.log.V(1).Info("Operation submitted", "handle", h, "kind", op.kind)
	return h
}

// State advances the operation by one poll and returns its state.
func (s *Service) State(h models.Handle) models.CloudAnchorState {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[h]
	if !ok {
		return models.StateNone
	}
	if op.state != models.StateTaskInProgress {
		return op.state
	}
	if op.pollsLeft > 0 {
		op.pollsLeft--
		return op.state
	}
	s.finish(h, op)
	return op.state
}

func (s *Service) finish(h models.Handle, op *operation) {
	switch op.kind {
	case models.TaskKindHost:
		op.anchorID = "ua-" + uuid.New().String()
		op.state = models.StateSuccess
		s.hosted[op.anchorID] = op.pose
	case models.TaskKindResolve:
		if pose, ok := s.hosted[op.anchorID]; ok {
			op.pose = pose
			op.state = models.StateSuccess
		} else if s.opts.AcceptForeignIDs {
			op.pose = models.IdentityPose()
			op.state = models.StateSuccess
		} else {
			op.state = models.StateErrorCloudIDNotFound
		}
	}
	s.log.V(1).Info("Operation finished", "handle", h, "kind", op.kind, "state", op.state, "cloudAnchorID", op.anchorID)
}

// CloudAnchorID returns the hosted or resolved ID once the operation finished.
func (s *Service) CloudAnchorID(h models.Handle) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[h]
	if !ok || op.state == models.StateTaskInProgress {
		return ""
	}
	return op.anchorID
}

// Release forgets the operation behind h. Hosted anchors stay resolvable.
func (s *Service) Release(h models.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, h)
}

// Operations returns the number of operations not yet released.
func (s *Service) Operations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// Pose returns the pose of an operation's anchor.
func (s *Service) Pose(h models.Handle) (models.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[h]
	if !ok {
		return models.Pose{}, false
	}
	return op.pose, true
}

// SetState forces the state of an operation. A forced SUCCESS on a host
// operation registers its anchor as resolvable.
func (s *Service) SetState(h models.Handle, state models.CloudAnchorState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[h]
	if !ok {
		return false
	}
	if state == models.StateSuccess && op.kind == models.TaskKindHost && op.anchorID == "" {
		op.anchorID = "ua-" + uuid.New().String()
		s.hosted[op.anchorID] = op.pose
	}
	op.state = state
	return true
}

// Hosted returns the number of anchors hosted so far.
func (s *Service) Hosted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hosted)
}

package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/database"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

// InstanceStore is the persistence surface the workflow service
// drives. *Repository implements it.
type InstanceStore interface {
	Create(ctx context.Context, instance *Instance, steps []ApprovalStep) error
	GetByID(ctx context.Context, id string) (*Instance, error)
	ListByOrganization(ctx context.Context, orgID string, limit int) ([]*Instance, error)
	CompareAndSwapStatus(ctx context.Context, id, expected, next string, stamp func(*statusStamp)) error
	UpdateResults(ctx context.Context, id string, aggregated, summary database.JSONMap) error
	Delete(ctx context.Context, id string) error
	ListSteps(ctx context.Context, instanceID string) ([]ApprovalStep, error)
	DecideStep(ctx context.Context, stepID, status, comments string) error
}

// validationActor stamps transitions triggered by a validation
// outcome rather than a named user.
const validationActor = "validation"

// Publisher is notified after a successful status change.
type Publisher interface {
	PublishStatusChange(ctx context.Context, instance *Instance, from string) error
}

// Service owns the report instance state machine.
type Service struct {
	store     InstanceStore
	publisher Publisher
	logger    *zap.Logger
}

func NewService(store InstanceStore, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateInstance starts a new instance. Manual creation starts at
// draft; automation-triggered creation passes initialStatus through
// from the run outcome.
func (s *Service) CreateInstance(ctx context.Context, instance *Instance, steps []ApprovalStep) (*Instance, error) {
	if instance.Status == "" {
		instance.Status = StatusDraft
	}
	switch instance.Status {
	case StatusDraft, StatusInProgress, StatusReview:
	default:
		return nil, &WorkflowConflictError{
			InstanceID: instance.ID,
			To:         instance.Status,
			Reason:     "instances cannot be created in status " + instance.Status,
		}
	}

	if err := s.store.Create(ctx, instance, steps); err != nil {
		return nil, err
	}
	return instance, nil
}

// GetInstance fetches one instance.
func (s *Service) GetInstance(ctx context.Context, id string) (*Instance, error) {
	return s.store.GetByID(ctx, id)
}

// ListInstances returns an organization's instances, newest first.
func (s *Service) ListInstances(ctx context.Context, orgID string, limit int) ([]*Instance, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByOrganization(ctx, orgID, limit)
}

// UpdateResults replaces the stored aggregate and validation
// summary on an instance.
func (s *Service) UpdateResults(ctx context.Context, id string, aggregated, summary database.JSONMap) error {
	return s.store.UpdateResults(ctx, id, aggregated, summary)
}

// StoreAggregate replaces the aggregated data on an instance. The
// validation summary is cleared: results computed from the prior
// data no longer describe the instance.
func (s *Service) StoreAggregate(ctx context.Context, id string, aggregated database.JSONMap) error {
	return s.store.UpdateResults(ctx, id, aggregated, database.JSONMap{})
}

// RecordValidation stores a validation outcome and moves a draft or
// in-progress instance to review when any error-severity rule
// failed. A concurrent status change loses the race silently; the
// stored results stand either way.
func (s *Service) RecordValidation(ctx context.Context, id string, aggregated, summary database.JSONMap, errorFailures int) error {
	if err := s.store.UpdateResults(ctx, id, aggregated, summary); err != nil {
		return err
	}
	if errorFailures == 0 {
		return nil
	}

	instance, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if instance.Status != StatusDraft && instance.Status != StatusInProgress {
		return nil
	}

	err = s.Transition(ctx, id, instance.Status, StatusReview, validationActor)
	var conflict *WorkflowConflictError
	if errors.As(err, &conflict) {
		s.logger.Info("Review transition lost to a concurrent change",
			zap.String("instance_id", id))
		return nil
	}
	return err
}

// DeleteInstance discards an instance whose run could not complete.
func (s *Service) DeleteInstance(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Transition moves an instance from expected to next. The move is
// checked against the allow-list first and then applied with a
// compare-and-swap, so a concurrent change surfaces as a conflict.
func (s *Service) Transition(ctx context.Context, id, expected, next, actor string) error {
	if !CanTransition(expected, next) {
		return &WorkflowConflictError{InstanceID: id, From: expected, To: next}
	}

	if next == StatusApproved {
		if err := s.requireStepsResolved(ctx, id); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	err := s.store.CompareAndSwapStatus(ctx, id, expected, next, func(stamp *statusStamp) {
		switch next {
		case StatusReview:
			stamp.reviewedBy = &actor
			stamp.reviewedAt = &now
		case StatusApproved:
			stamp.approvedBy = &actor
			stamp.approvedAt = &now
		}
	})
	if err != nil {
		return err
	}

	s.publishChange(ctx, id, expected)
	return nil
}

// Submit moves an approved instance to submitted, recording the
// submission reference.
func (s *Service) Submit(ctx context.Context, id, actor, submissionRef string) error {
	now := time.Now().UTC()
	err := s.store.CompareAndSwapStatus(ctx, id, StatusApproved, StatusSubmitted, func(stamp *statusStamp) {
		stamp.submittedBy = &actor
		stamp.submittedAt = &now
		stamp.submissionRef = &submissionRef
	})
	if err != nil {
		return err
	}

	s.publishChange(ctx, id, StatusApproved)
	return nil
}

// RecordRegulatorOutcome moves a submitted instance to its terminal
// accepted or rejected status.
func (s *Service) RecordRegulatorOutcome(ctx context.Context, id, outcome string) error {
	if outcome != StatusAccepted && outcome != StatusRejected {
		return &WorkflowConflictError{
			InstanceID: id,
			From:       StatusSubmitted,
			To:         outcome,
			Reason:     "regulator outcome must be accepted or rejected",
		}
	}
	if err := s.store.CompareAndSwapStatus(ctx, id, StatusSubmitted, outcome, nil); err != nil {
		return err
	}
	s.publishChange(ctx, id, StatusSubmitted)
	return nil
}

// Reopen moves a rejected instance back to draft for remediation.
func (s *Service) Reopen(ctx context.Context, id string) error {
	if err := s.store.CompareAndSwapStatus(ctx, id, StatusRejected, StatusDraft, nil); err != nil {
		return err
	}
	s.publishChange(ctx, id, StatusRejected)
	return nil
}

// DecideStep records a decision on one approval step. Steps decide
// in step-number order; approving a step while an earlier step is
// still pending is a conflict. A rejected step returns the instance
// to draft, or to review when a passing validation summary is on
// file.
func (s *Service) DecideStep(ctx context.Context, instanceID, stepID, decision, comments string) error {
	if decision != StepApproved && decision != StepRejected && decision != StepSkipped {
		return &WorkflowConflictError{
			InstanceID: instanceID,
			Reason:     "step decision must be approved, rejected, or skipped",
		}
	}

	steps, err := s.store.ListSteps(ctx, instanceID)
	if err != nil {
		return err
	}

	var target *ApprovalStep
	for i := range steps {
		step := &steps[i]
		if step.ID == stepID {
			target = step
			break
		}
		if step.Status == StepPending {
			return &WorkflowConflictError{
				InstanceID: instanceID,
				Reason:     "earlier approval step " + step.Name + " is still pending",
			}
		}
	}
	if target == nil {
		return &WorkflowConflictError{
			InstanceID: instanceID,
			Reason:     "approval step not found on instance",
		}
	}

	if err := s.store.DecideStep(ctx, stepID, decision, comments); err != nil {
		return err
	}

	if decision == StepRejected {
		return s.returnAfterRejection(ctx, instanceID)
	}
	return nil
}

// requireStepsResolved checks that every approval step has been
// approved or skipped.
func (s *Service) requireStepsResolved(ctx context.Context, instanceID string) error {
	steps, err := s.store.ListSteps(ctx, instanceID)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.Status != StepApproved && step.Status != StepSkipped {
			return &WorkflowConflictError{
				InstanceID: instanceID,
				From:       StatusReview,
				To:         StatusApproved,
				Reason:     "approval step " + step.Name + " is " + step.Status,
			}
		}
	}
	return nil
}

func (s *Service) returnAfterRejection(ctx context.Context, instanceID string) error {
	instance, err := s.store.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}

	destination := StatusDraft
	if overall, ok := instance.ValidationSummary["overall_status"].(string); ok &&
		overall == string(validation.StatusPassed) {
		destination = StatusReview
	}
	if instance.Status == destination {
		return nil
	}

	if err := s.store.CompareAndSwapStatus(ctx, instanceID, instance.Status, destination, nil); err != nil {
		return err
	}
	s.publishChange(ctx, instanceID, instance.Status)
	return nil
}

func (s *Service) publishChange(ctx context.Context, instanceID, from string) {
	if s.publisher == nil {
		return
	}
	instance, err := s.store.GetByID(ctx, instanceID)
	if err != nil {
		s.logger.Warn("Failed to load instance for event publish",
			zap.String("instance_id", instanceID), zap.Error(err))
		return
	}
	if err := s.publisher.PublishStatusChange(ctx, instance, from); err != nil {
		s.logger.Warn("Failed to publish status change event",
			zap.String("instance_id", instanceID), zap.Error(err))
	}
}

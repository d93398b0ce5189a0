package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/metrics"
	"github.com/fluxgate/tenancy/internal/identity/store"
	"github.com/fluxgate/tenancy/pkg/idx"
)

var (
	ErrNotFound          = errors.New("not_found")
	ErrAlreadyDecided    = errors.New("already_decided")
	ErrNoPendingStep     = errors.New("no_pending_step")
	ErrInvalidState      = errors.New("invalid_state")
	ErrValidation        = errors.New("validation_error")
	ErrAllocationMissing = errors.New("allocation_missing")
)

// LicenseService runs the license-change approval state machine: request
// creation, ordered step decisions, and the final atomic allocation
// mutation.
type LicenseService struct {
	Store store.Store
	Audit *AuditDispatcher
}

// CreateRequestInput is the caller's proposal for an allocation change.
type CreateRequestInput struct {
	TenantID     string
	LicenseType  string
	Direction    domain.RequestDirection
	ChangeAmount int
	Reason       string
}

func (in CreateRequestInput) validate() error {
	if in.TenantID == "" || in.LicenseType == "" {
		return ErrValidation
	}
	if in.Direction != domain.DirectionIncrease && in.Direction != domain.DirectionDecrease {
		return ErrValidation
	}
	if in.ChangeAmount <= 0 {
		return ErrValidation
	}
	return nil
}

// CreateRequest opens a request and materializes its approval chain: one
// PENDING step per configured approval level in step order, or a single
// executive step when the tenant has none configured.
//
// Non-platform subjects may only open requests for their own tenant.
func (s *LicenseService) CreateRequest(ctx context.Context, sub domain.Subject, in CreateRequestInput) (domain.LicenseRequest, error) {
	if err := in.validate(); err != nil {
		return domain.LicenseRequest{}, err
	}
	if !sub.IsPlatform() && sub.TenantID != in.TenantID {
		return domain.LicenseRequest{}, ErrForbidden
	}

	now := time.Now()

	// Snapshot the current count. A missing allocation row snapshots zero;
	// whether one must exist is settled at final approval.
	current := 0
	allocation, err := s.Store.Allocations().GetByTenantAndType(ctx, in.TenantID, in.LicenseType)
	switch {
	case err == nil:
		current = allocation.Allocated
	case errors.Is(err, store.ErrNotFound):
	default:
		return domain.LicenseRequest{}, err
	}

	// The projection is raw arithmetic, negative totals included. The
	// zero floor applies only when the change is applied at final approval.
	newTotal := current + in.ChangeAmount
	if in.Direction == domain.DirectionDecrease {
		newTotal = current - in.ChangeAmount
	}

	request := domain.LicenseRequest{
		ID:           idx.New().String(),
		TenantID:     in.TenantID,
		LicenseType:  in.LicenseType,
		Direction:    in.Direction,
		CurrentCount: current,
		ChangeAmount: in.ChangeAmount,
		NewTotal:     newTotal,
		Reason:       strings.TrimSpace(in.Reason),
		RequesterID:  sub.ActorID,
		Status:       domain.RequestPending,
	}

	levels, err := s.Store.Directory().ApprovalLevels(ctx, in.TenantID)
	if err != nil {
		return domain.LicenseRequest{}, err
	}
	stages := make([]string, 0, len(levels))
	for _, level := range levels {
		stages = append(stages, level.Stage)
	}
	if len(stages) == 0 {
		stages = []string{domain.DefaultApprovalStage}
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Requests().Create(ctx, request); err != nil {
			return err
		}
		for _, stage := range stages {
			step := domain.Approval{
				// Monotonic ULIDs keep step order stable even when rows
				// share a creation timestamp.
				ID:        idx.New().String(),
				RequestID: request.ID,
				Stage:     stage,
				Decision:  domain.DecisionPending,
				CreatedAt: now,
			}
			if err := tx.Approvals().Create(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.LicenseRequest{}, err
	}

	s.Audit.Emit(ctx, domain.AuditEvent{
		TenantID: request.TenantID, ActorID: sub.ActorID, ActorKind: string(sub.Kind),
		Action:   domain.AuditRequestCreated,
		Resource: request.ID,
		Meta: map[string]string{
			"license_type": request.LicenseType,
			"direction":    string(request.Direction),
		},
	})

	return request, nil
}

// Decide records a decision on the request's current step (the earliest
// still-PENDING one) and advances the state machine.
//
// A rejection terminates the request immediately. An approval either exposes
// the next stage or, when it was the last step, applies the allocation
// change in the same transaction that flips the request to APPROVED. Two
// racing final approvals resolve to exactly one allocation mutation: the
// loser observes a non-PENDING request and gets ErrAlreadyDecided.
func (s *LicenseService) Decide(ctx context.Context, sub domain.Subject, requestID string, approve bool, comments string) (domain.DecideOutcome, error) {
	now := time.Now()

	var (
		outcome domain.DecideOutcome
		request domain.LicenseRequest
		stage   string
	)

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		request, err = tx.Requests().Get(ctx, requestID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if request.Status != domain.RequestPending {
			return ErrAlreadyDecided
		}

		step, err := tx.Approvals().EarliestPending(ctx, requestID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNoPendingStep
			}
			return err
		}
		stage = step.Stage

		if err := s.authorizeDecider(ctx, tx, sub, request, step); err != nil {
			return err
		}

		if !approve {
			if err := tx.Approvals().RecordDecision(ctx, step.ID, domain.DecisionRejected, sub.ActorID, comments, now); err != nil {
				// A vanished PENDING guard means a racing decision won.
				if errors.Is(err, store.ErrNotFound) {
					return ErrAlreadyDecided
				}
				return err
			}
			if err := tx.Approvals().CancelPending(ctx, requestID, ""); err != nil {
				return err
			}
			if err := tx.Requests().UpdateStatus(ctx, requestID, domain.RequestRejected, comments); err != nil {
				return err
			}
			outcome = domain.DecideOutcome{Status: domain.RequestRejected}
			return nil
		}

		if err := tx.Approvals().RecordDecision(ctx, step.ID, domain.DecisionApproved, sub.ActorID, comments, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrAlreadyDecided
			}
			return err
		}

		next, err := tx.Approvals().EarliestPending(ctx, requestID)
		if err == nil {
			outcome = domain.DecideOutcome{Status: domain.RequestPending, NextStage: next.Stage}
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		// Final approval: apply the allocation change atomically with the
		// status flip. A missing allocation row fails the decision and the
		// rollback leaves the request PENDING.
		if err := s.applyAllocation(ctx, tx, request); err != nil {
			return err
		}
		if err := tx.Requests().UpdateStatus(ctx, requestID, domain.RequestApproved, ""); err != nil {
			return err
		}
		outcome = domain.DecideOutcome{Status: domain.RequestApproved}
		return nil
	})
	if err != nil {
		return domain.DecideOutcome{}, err
	}

	s.auditDecision(ctx, sub, request, stage, approve, outcome)

	return outcome, nil
}

// authorizeDecider enforces who may decide a step: platform admins always,
// tenant users for the executive stage of their own tenant, and department
// users only for the stage matching their department.
func (s *LicenseService) authorizeDecider(ctx context.Context, tx store.Tx, sub domain.Subject, request domain.LicenseRequest, step domain.Approval) error {
	if sub.IsAdmin() {
		return nil
	}
	if sub.TenantID != request.TenantID {
		return ErrForbidden
	}

	switch sub.Kind {
	case domain.KindTenantUser:
		if strings.EqualFold(step.Stage, domain.DefaultApprovalStage) {
			return nil
		}
		return ErrForbidden
	case domain.KindDepartmentUser:
		ok, err := tx.Directory().IsInStage(ctx, sub.ActorID, step.Stage)
		if err != nil {
			return err
		}
		if !ok {
			return ErrForbidden
		}
		return nil
	default:
		return ErrForbidden
	}
}

func (s *LicenseService) applyAllocation(ctx context.Context, tx store.Tx, request domain.LicenseRequest) error {
	allocation, err := tx.Allocations().GetByTenantAndType(ctx, request.TenantID, request.LicenseType)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAllocationMissing
		}
		return err
	}

	next := applyChange(allocation.Allocated, request.Direction, request.ChangeAmount)
	return tx.Allocations().UpdateAllocated(ctx, allocation.ID, next)
}

// applyChange computes the post-change seat ceiling at application time.
// Decreases floor at zero, never go negative.
func applyChange(current int, direction domain.RequestDirection, amount int) int {
	if direction == domain.DirectionDecrease {
		next := current - amount
		if next < 0 {
			return 0
		}
		return next
	}
	return current + amount
}

func (s *LicenseService) auditDecision(ctx context.Context, sub domain.Subject, request domain.LicenseRequest, stage string, approve bool, outcome domain.DecideOutcome) {
	stepAction := domain.AuditStepApproved
	decisionLabel := "approved"
	if !approve {
		stepAction = domain.AuditStepRejected
		decisionLabel = "rejected"
	}
	metrics.LicenseDecisionsTotal.WithLabelValues(decisionLabel).Inc()

	s.Audit.Emit(ctx, domain.AuditEvent{
		TenantID: request.TenantID, ActorID: sub.ActorID, ActorKind: string(sub.Kind),
		Action:   stepAction,
		Resource: request.ID,
		Meta:     map[string]string{"stage": stage},
	})

	switch outcome.Status {
	case domain.RequestApproved:
		s.Audit.Emit(ctx, domain.AuditEvent{
			TenantID: request.TenantID, ActorID: sub.ActorID, ActorKind: string(sub.Kind),
			Action:   domain.AuditRequestApproved,
			Resource: request.ID,
		})
		s.Audit.Emit(ctx, domain.AuditEvent{
			TenantID: request.TenantID, ActorID: sub.ActorID, ActorKind: string(sub.Kind),
			Action:   domain.AuditAllocationUpdated,
			Resource: request.ID,
			Meta:     map[string]string{"license_type": request.LicenseType},
		})
	case domain.RequestRejected:
		s.Audit.Emit(ctx, domain.AuditEvent{
			TenantID: request.TenantID, ActorID: sub.ActorID, ActorKind: string(sub.Kind),
			Action:   domain.AuditRequestRejected,
			Resource: request.ID,
		})
	}
}

// Cancel withdraws a still-PENDING request. Only the requester or an admin
// may cancel; any terminal status fails with ErrInvalidState.
func (s *LicenseService) Cancel(ctx context.Context, sub domain.Subject, requestID, comments string) error {
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		request, err := tx.Requests().Get(ctx, requestID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		if request.RequesterID != sub.ActorID && !sub.IsAdmin() {
			return ErrForbidden
		}
		if request.Status != domain.RequestPending {
			return ErrInvalidState
		}

		if err := tx.Approvals().CancelPending(ctx, requestID, comments); err != nil {
			return err
		}
		return tx.Requests().UpdateStatus(ctx, requestID, domain.RequestCancelled, "")
	})
	if err != nil {
		return err
	}

	s.Audit.Emit(ctx, domain.AuditEvent{
		ActorID: sub.ActorID, ActorKind: string(sub.Kind),
		Action:   domain.AuditRequestCancelled,
		Resource: requestID,
	})
	return nil
}

// Get returns one request with its approval steps. Non-platform subjects
// are restricted to their own tenant.
func (s *LicenseService) Get(ctx context.Context, sub domain.Subject, requestID string) (domain.LicenseRequest, []domain.Approval, error) {
	request, err := s.Store.Requests().Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LicenseRequest{}, nil, ErrNotFound
		}
		return domain.LicenseRequest{}, nil, err
	}
	if !sub.IsPlatform() && sub.TenantID != request.TenantID {
		return domain.LicenseRequest{}, nil, ErrForbidden
	}

	steps, err := s.Store.Approvals().ListByRequest(ctx, requestID)
	if err != nil {
		return domain.LicenseRequest{}, nil, err
	}
	return request, steps, nil
}

// List returns requests newest-first. Non-platform subjects are pinned to
// their own tenant regardless of the filter they pass.
func (s *LicenseService) List(ctx context.Context, sub domain.Subject, tenantID string, status domain.RequestStatus, limit, offset int) ([]domain.LicenseRequest, int, error) {
	if !sub.IsPlatform() {
		tenantID = sub.TenantID
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.Store.Requests().List(ctx, tenantID, status, limit, offset)
}

package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxgate/tenancy/internal/identity/domain"
)

func adminSubject() domain.Subject {
	return domain.Subject{ActorID: "root", Kind: domain.KindSuperAdmin}
}

func tenantSubject(tenantID string) domain.Subject {
	return domain.Subject{ActorID: "tu-1", Kind: domain.KindTenantUser, TenantID: tenantID}
}

func TestCreateRequestDefaultsToExecutiveStage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	seedAllocation(t, st, tenant.ID, "standard", 10, 3)

	request, err := svc.CreateRequest(ctx, tenantSubject(tenant.ID), CreateRequestInput{
		TenantID:     tenant.ID,
		LicenseType:  "standard",
		Direction:    domain.DirectionIncrease,
		ChangeAmount: 5,
		Reason:       "team growth",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RequestPending, request.Status)
	require.Equal(t, 10, request.CurrentCount)
	require.Equal(t, 15, request.NewTotal)

	steps, err := st.Approvals().ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, domain.DefaultApprovalStage, steps[0].Stage)
	require.Equal(t, domain.DecisionPending, steps[0].Decision)
}

func TestCreateRequestMaterializesConfiguredChain(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	seedApprovalLevels(t, st, tenant.ID, "sales", "finance", "ceo")

	request, err := svc.CreateRequest(ctx, tenantSubject(tenant.ID), CreateRequestInput{
		TenantID:     tenant.ID,
		LicenseType:  "standard",
		Direction:    domain.DirectionIncrease,
		ChangeAmount: 2,
	})
	require.NoError(t, err)

	steps, err := st.Approvals().ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	require.Equal(t, "sales", steps[0].Stage)
	require.Equal(t, "finance", steps[1].Stage)
	require.Equal(t, "ceo", steps[2].Stage)
}

func TestCreateRequestValidation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}
	tenant := seedTenant(t, st, "acme", false)

	_, err := svc.CreateRequest(ctx, adminSubject(), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 0,
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateRequest(ctx, adminSubject(), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: "sideways", ChangeAmount: 1,
	})
	require.ErrorIs(t, err, ErrValidation)

	// Tenant subjects cannot open requests for other tenants.
	_, err = svc.CreateRequest(ctx, tenantSubject("other-tenant"), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 1,
	})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestDecideSingleStageApproveAppliesAllocation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	allocation := seedAllocation(t, st, tenant.ID, "standard", 10, 3)

	request, err := svc.CreateRequest(ctx, tenantSubject(tenant.ID), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 5,
	})
	require.NoError(t, err)

	outcome, err := svc.Decide(ctx, adminSubject(), request.ID, true, "approved")
	require.NoError(t, err)
	require.Equal(t, domain.RequestApproved, outcome.Status)
	require.Empty(t, outcome.NextStage)

	updated, err := st.Allocations().GetByTenantAndType(ctx, tenant.ID, "standard")
	require.NoError(t, err)
	require.Equal(t, 15, updated.Allocated)
	require.Equal(t, allocation.Used, updated.Used)

	final, err := st.Requests().Get(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestApproved, final.Status)
}

func TestDecideMidChainExposesNextStage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	seedApprovalLevels(t, st, tenant.ID, "sales", "finance")
	seedAllocation(t, st, tenant.ID, "standard", 10, 0)

	request, err := svc.CreateRequest(ctx, tenantSubject(tenant.ID), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 1,
	})
	require.NoError(t, err)

	outcome, err := svc.Decide(ctx, adminSubject(), request.ID, true, "")
	require.NoError(t, err)
	require.Equal(t, domain.RequestPending, outcome.Status)
	require.Equal(t, "finance", outcome.NextStage)

	// The allocation is untouched until the final stage approves.
	allocation, err := st.Allocations().GetByTenantAndType(ctx, tenant.ID, "standard")
	require.NoError(t, err)
	require.Equal(t, 10, allocation.Allocated)
}

func TestDecideRejectTerminatesRequest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	seedApprovalLevels(t, st, tenant.ID, "sales", "finance")
	seedAllocation(t, st, tenant.ID, "standard", 10, 0)

	request, err := svc.CreateRequest(ctx, tenantSubject(tenant.ID), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 1,
	})
	require.NoError(t, err)

	outcome, err := svc.Decide(ctx, adminSubject(), request.ID, false, "budget freeze")
	require.NoError(t, err)
	require.Equal(t, domain.RequestRejected, outcome.Status)

	final, err := st.Requests().Get(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestRejected, final.Status)
	require.Equal(t, "budget freeze", final.RejectionReason)

	// Remaining steps are cancelled, not left pending.
	steps, err := st.Approvals().ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DecisionRejected, steps[0].Decision)
	require.Equal(t, domain.DecisionCancelled, steps[1].Decision)

	// Allocation untouched.
	allocation, err := st.Allocations().GetByTenantAndType(ctx, tenant.ID, "standard")
	require.NoError(t, err)
	require.Equal(t, 10, allocation.Allocated)
}

func TestDecideDecreaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	seedAllocation(t, st, tenant.ID, "standard", 3, 0)

	request, err := svc.CreateRequest(ctx, tenantSubject(tenant.ID), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: domain.DirectionDecrease, ChangeAmount: 10,
	})
	require.NoError(t, err)

	// The projection is raw; only the applied allocation is floored.
	require.Equal(t, -7, request.NewTotal)

	_, err = svc.Decide(ctx, adminSubject(), request.ID, true, "")
	require.NoError(t, err)

	allocation, err := st.Allocations().GetByTenantAndType(ctx, tenant.ID, "standard")
	require.NoError(t, err)
	require.Equal(t, 0, allocation.Allocated)
}

func TestDecideSecondFinalApprovalIsRejected(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	seedAllocation(t, st, tenant.ID, "standard", 10, 0)

	request, err := svc.CreateRequest(ctx, tenantSubject(tenant.ID), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 5,
	})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, adminSubject(), request.ID, true, "")
	require.NoError(t, err)

	// A racing duplicate decision observes the terminal status and must not
	// mutate the allocation a second time.
	_, err = svc.Decide(ctx, adminSubject(), request.ID, true, "")
	require.ErrorIs(t, err, ErrAlreadyDecided)

	allocation, err := st.Allocations().GetByTenantAndType(ctx, tenant.ID, "standard")
	require.NoError(t, err)
	require.Equal(t, 15, allocation.Allocated)
}

func TestDecideConcurrentFinalApprovalsMutateOnce(t *testing.T) {
	ctx := context.Background()
	st := newFileTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	seedAllocation(t, st, tenant.ID, "standard", 10, 0)

	request, err := svc.CreateRequest(ctx, tenantSubject(tenant.ID), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 5,
	})
	require.NoError(t, err)

	// Both goroutines race the final approval; the PENDING guards let only
	// one commit a decision and its allocation mutation.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Decide(ctx, adminSubject(), request.ID, true, "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	require.Equal(t, 1, wins)

	// The change is applied exactly once.
	allocation, err := st.Allocations().GetByTenantAndType(ctx, tenant.ID, "standard")
	require.NoError(t, err)
	require.Equal(t, 15, allocation.Allocated)

	final, err := st.Requests().Get(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestApproved, final.Status)
}

func TestDecideMissingAllocationFailsAndStaysPending(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	// No allocation row for this tenant/type pair.

	request, err := svc.CreateRequest(ctx, tenantSubject(tenant.ID), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 5,
	})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, adminSubject(), request.ID, true, "")
	require.ErrorIs(t, err, ErrAllocationMissing)

	// The whole decision rolled back: the request and its step stay PENDING.
	fresh, err := st.Requests().Get(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestPending, fresh.Status)

	step, err := st.Approvals().EarliestPending(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DecisionPending, step.Decision)
}

func TestDecideStageAuthorization(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	seedApprovalLevels(t, st, tenant.ID, "finance")
	seedAllocation(t, st, tenant.ID, "standard", 10, 0)

	financeUser := seedActor(t, st, domain.Actor{
		Kind: domain.KindDepartmentUser, Email: "fin@acme.example",
		TenantID: tenant.ID, Department: "finance",
	}, "pw")
	salesUser := seedActor(t, st, domain.Actor{
		Kind: domain.KindDepartmentUser, Email: "sales@acme.example",
		TenantID: tenant.ID, Department: "sales",
	}, "pw")

	request, err := svc.CreateRequest(ctx, tenantSubject(tenant.ID), CreateRequestInput{
		TenantID: tenant.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 1,
	})
	require.NoError(t, err)

	wrongStage := domain.Subject{ActorID: salesUser.ID, Kind: domain.KindDepartmentUser, TenantID: tenant.ID}
	_, err = svc.Decide(ctx, wrongStage, request.ID, true, "")
	require.ErrorIs(t, err, ErrForbidden)

	rightStage := domain.Subject{ActorID: financeUser.ID, Kind: domain.KindDepartmentUser, TenantID: tenant.ID}
	outcome, err := svc.Decide(ctx, rightStage, request.ID, true, "")
	require.NoError(t, err)
	require.Equal(t, domain.RequestApproved, outcome.Status)
}

func TestCancelSemantics(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	tenant := seedTenant(t, st, "acme", false)
	seedAllocation(t, st, tenant.ID, "standard", 10, 0)
	requester := tenantSubject(tenant.ID)

	t.Run("requester can cancel pending", func(t *testing.T) {
		request, err := svc.CreateRequest(ctx, requester, CreateRequestInput{
			TenantID: tenant.ID, LicenseType: "standard",
			Direction: domain.DirectionIncrease, ChangeAmount: 1,
		})
		require.NoError(t, err)

		require.NoError(t, svc.Cancel(ctx, requester, request.ID, "changed my mind"))

		fresh, err := st.Requests().Get(ctx, request.ID)
		require.NoError(t, err)
		require.Equal(t, domain.RequestCancelled, fresh.Status)

		steps, err := st.Approvals().ListByRequest(ctx, request.ID)
		require.NoError(t, err)
		require.Equal(t, domain.DecisionCancelled, steps[0].Decision)
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		request, err := svc.CreateRequest(ctx, requester, CreateRequestInput{
			TenantID: tenant.ID, LicenseType: "standard",
			Direction: domain.DirectionIncrease, ChangeAmount: 1,
		})
		require.NoError(t, err)

		stranger := domain.Subject{ActorID: "stranger", Kind: domain.KindTenantUser, TenantID: tenant.ID}
		require.ErrorIs(t, svc.Cancel(ctx, stranger, request.ID, ""), ErrForbidden)
	})

	t.Run("approved request cannot be cancelled", func(t *testing.T) {
		request, err := svc.CreateRequest(ctx, requester, CreateRequestInput{
			TenantID: tenant.ID, LicenseType: "standard",
			Direction: domain.DirectionIncrease, ChangeAmount: 1,
		})
		require.NoError(t, err)

		_, err = svc.Decide(ctx, adminSubject(), request.ID, true, "")
		require.NoError(t, err)

		require.ErrorIs(t, svc.Cancel(ctx, requester, request.ID, ""), ErrInvalidState)
	})
}

func TestListScopesTenantsToTheirOwnRequests(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &LicenseService{Store: st}

	acme := seedTenant(t, st, "acme", false)
	globex := seedTenant(t, st, "globex", false)

	_, err := svc.CreateRequest(ctx, tenantSubject(acme.ID), CreateRequestInput{
		TenantID: acme.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 1,
	})
	require.NoError(t, err)
	_, err = svc.CreateRequest(ctx, domain.Subject{ActorID: "g1", Kind: domain.KindTenantUser, TenantID: globex.ID}, CreateRequestInput{
		TenantID: globex.ID, LicenseType: "standard",
		Direction: domain.DirectionIncrease, ChangeAmount: 1,
	})
	require.NoError(t, err)

	// A tenant subject is pinned to its own tenant even when it asks for
	// another one.
	requests, total, err := svc.List(ctx, tenantSubject(acme.ID), globex.ID, "", 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, acme.ID, requests[0].TenantID)

	// Platform subjects see everything.
	_, total, err = svc.List(ctx, adminSubject(), "", "", 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

const snapshot = `
users:
  - id: jdoe
    name: Jane Doe
    email: jdoe@example.com
    manager: mgr-1
    department: Finance
    user_type: EMPLOYEE
    roles: [AP_CLERK]
    entitlements:
      - auth_object: S_TCODE
        field: TCD
        value: FK01
        system: SAP-ERP
    grants:
      - access_id: AP_CLERK
        access_name: Accounts Payable Clerk
        system: SAP-ERP
        base_risk_score: 40
        use_count_90d: 12
  - id: mgr-1
    name: Max Mgr
    department: Finance
    user_type: EMPLOYEE
catalog:
  - access_id: Z_PAYMENT_RUN
    access_name: Payment Run
    system: SAP-ERP
    entitlements:
      - auth_object: S_TCODE
        field: TCD
        value: F110
        system: SAP-ERP
  - access_id: FF_ERP_01
    access_name: Emergency Access ERP
    system: SAP-ERP
    firefighter_id: FF_ERP_01
firefighters:
  - id: FF_ERP_01
    owner: sec-1
    locked: false
functions:
  SECURITY: [sec-1, sec-2]
role_owners:
  AP_CLERK: [own-1]
data_owners:
  SAP-ERP: [down-1]
cost_center_owners:
  CC-100: [cc-own-1]
`

func loadTestDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := ParseDirectory([]byte(snapshot))
	require.NoError(t, err)
	return d
}

func TestDirectoryUserAccessSnapshot(t *testing.T) {
	d := loadTestDirectory(t)
	ctx := context.Background()

	user, err := d.UserAccessOf(ctx, "jdoe")
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", user.UserName)
	require.Equal(t, []string{"AP_CLERK"}, user.Roles)
	require.Len(t, user.Entitlements, 1)
	require.Equal(t, "FK01", user.Entitlements[0].Value)

	_, err = d.UserAccessOf(ctx, "ghost")
	require.True(t, faults.IsKind(err, faults.NotFound))
}

func TestDirectoryScopeFilter(t *testing.T) {
	d := loadTestDirectory(t)
	ctx := context.Background()

	all, err := d.UsersInScope(ctx, contracts.ScopeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	erp, err := d.UsersInScope(ctx, contracts.ScopeFilter{Systems: []string{"sap-erp"}})
	require.NoError(t, err)
	require.Equal(t, []string{"jdoe"}, erp, "system match is case-insensitive")

	finance, err := d.UsersInScope(ctx, contracts.ScopeFilter{Departments: []string{"Finance"}, UserTypes: []string{"EMPLOYEE"}})
	require.NoError(t, err)
	require.Len(t, finance, 2)
}

func TestDirectoryResolver(t *testing.T) {
	d := loadTestDirectory(t)
	ctx := context.Background()

	mgr, err := d.ManagerOf(ctx, "jdoe")
	require.NoError(t, err)
	require.Equal(t, "mgr-1", mgr)

	// Unknown users resolve empty, not error.
	mgr, err = d.ManagerOf(ctx, "ghost")
	require.NoError(t, err)
	require.Empty(t, mgr)

	email, err := d.EmailOf(ctx, "mgr-1")
	require.NoError(t, err)
	require.Equal(t, "mgr-1", email, "missing email falls back to user id")

	pool, err := d.UsersWithFunction(ctx, contracts.ApproverSecurity)
	require.NoError(t, err)
	require.Equal(t, []string{"sec-1", "sec-2"}, pool)

	owners, err := d.RoleOwnerOf(ctx, "AP_CLERK")
	require.NoError(t, err)
	require.Equal(t, []string{"own-1"}, owners)
}

func TestDirectoryCatalogLookup(t *testing.T) {
	d := loadTestDirectory(t)
	ctx := context.Background()

	item, err := d.Lookup(ctx, "Z_PAYMENT_RUN")
	require.NoError(t, err)
	require.Equal(t, "Payment Run", item.AccessName)
	require.Len(t, item.Entitlements, 1)

	ff, err := d.Lookup(ctx, "FF_ERP_01")
	require.NoError(t, err)
	require.Equal(t, "FF_ERP_01", ff.FirefighterID)

	_, err = d.Lookup(ctx, "NOPE")
	require.True(t, faults.IsKind(err, faults.NotFound))
}

func TestDirectoryFirefighterStatus(t *testing.T) {
	d := loadTestDirectory(t)
	ctx := context.Background()

	st, err := d.CheckFirefighterAvailability(ctx, "FF_ERP_01")
	require.NoError(t, err)
	require.True(t, st.Available)
	require.Equal(t, "sec-1", st.Owner)

	_, err = d.CheckFirefighterAvailability(ctx, "FF_X")
	require.True(t, faults.IsKind(err, faults.NotFound))
}

func TestDirectoryGrants(t *testing.T) {
	d := loadTestDirectory(t)

	grants, err := d.GrantsOf(context.Background(), "jdoe")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, "AP_CLERK", grants[0].AccessID)
	require.Equal(t, 40, grants[0].BaseRiskScore)
	require.Equal(t, 12, grants[0].Usage.UseCount90d)
}

func TestParseDirectoryRejectsAnonymousUser(t *testing.T) {
	_, err := ParseDirectory([]byte("users:\n  - name: nobody\n"))
	require.True(t, faults.IsKind(err, faults.Validation))
}

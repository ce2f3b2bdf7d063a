// Package connector hosts the integrations between the governance core
// and the external identity landscape: a snapshot-backed directory, a
// webhook provisioner, and a trust gate that bounds what each connector
// may be asked.
package connector

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Oversight-Labs/sentra/core/pkg/certification"
	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// Directory serves entitlement and organizational lookups from a
// periodically exported snapshot file. It implements
// contracts.EntitlementSource, contracts.UserResolver, the coordinator
// catalog, and the certification grant source.
type Directory struct {
	doc      directoryDoc
	users    map[string]*directoryUser
	catalog  map[string]*catalogEntry
	loadedAt time.Time
}

type directoryDoc struct {
	Users        []directoryUser     `yaml:"users"`
	Catalog      []catalogEntry      `yaml:"catalog"`
	Firefighters []firefighterEntry  `yaml:"firefighters"`
	Functions    map[string][]string `yaml:"functions"`
	RoleOwners   map[string][]string `yaml:"role_owners"`
	DataOwners   map[string][]string `yaml:"data_owners"`
	CCOwners     map[string][]string `yaml:"cost_center_owners"`
}

type directoryUser struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Email       string   `yaml:"email"`
	Manager     string   `yaml:"manager"`
	Department  string   `yaml:"department"`
	CostCenter  string   `yaml:"cost_center"`
	CompanyCode string   `yaml:"company_code"`
	UserType    string   `yaml:"user_type"`
	Roles       []string `yaml:"roles"`
	Profiles    []string `yaml:"profiles"`

	Entitlements []entitlementDoc `yaml:"entitlements"`
	Grants       []grantDoc       `yaml:"grants"`
}

type entitlementDoc struct {
	AuthObject string `yaml:"auth_object"`
	Field      string `yaml:"field"`
	Value      string `yaml:"value"`
	Activity   string `yaml:"activity"`
	System     string `yaml:"system"`
}

type grantDoc struct {
	AccessID      string     `yaml:"access_id"`
	AccessName    string     `yaml:"access_name"`
	System        string     `yaml:"system"`
	GrantedAt     *time.Time `yaml:"granted_at"`
	LastUsedAt    *time.Time `yaml:"last_used_at"`
	UseCount90d   int        `yaml:"use_count_90d"`
	BaseRiskScore int        `yaml:"base_risk_score"`
}

type catalogEntry struct {
	AccessID      string           `yaml:"access_id"`
	AccessName    string           `yaml:"access_name"`
	System        string           `yaml:"system"`
	Description   string           `yaml:"description"`
	Entitlements  []entitlementDoc `yaml:"entitlements"`
	FirefighterID string           `yaml:"firefighter_id"`
}

type firefighterEntry struct {
	ID      string     `yaml:"id"`
	Owner   string     `yaml:"owner"`
	Locked  bool       `yaml:"locked"`
	ValidTo *time.Time `yaml:"valid_to"`
}

// LoadDirectory parses a directory snapshot file.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load directory snapshot: %w", err)
	}
	return ParseDirectory(data)
}

// ParseDirectory builds a Directory from snapshot bytes.
func ParseDirectory(data []byte) (*Directory, error) {
	var doc directoryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse directory snapshot: %w", err)
	}

	d := &Directory{
		doc:      doc,
		users:    make(map[string]*directoryUser, len(doc.Users)),
		catalog:  make(map[string]*catalogEntry, len(doc.Catalog)),
		loadedAt: time.Now().UTC(),
	}
	for i := range doc.Users {
		u := &doc.Users[i]
		if u.ID == "" {
			return nil, faults.New(faults.Validation, "directory user %d has no id", i)
		}
		d.users[u.ID] = u
	}
	for i := range doc.Catalog {
		e := &doc.Catalog[i]
		if e.AccessID == "" {
			return nil, faults.New(faults.Validation, "catalog entry %d has no access id", i)
		}
		d.catalog[e.AccessID] = e
	}
	return d, nil
}

// LoadedAt reports when the snapshot was parsed, for freshness gating.
func (d *Directory) LoadedAt() time.Time { return d.loadedAt }

func (d *Directory) user(userID string) (*directoryUser, error) {
	u, ok := d.users[userID]
	if !ok {
		return nil, faults.New(faults.NotFound, "user %s not in directory", userID).Entity(userID)
	}
	return u, nil
}

func mapEntitlements(in []entitlementDoc) []contracts.Entitlement {
	out := make([]contracts.Entitlement, len(in))
	for i, e := range in {
		out[i] = contracts.Entitlement{
			AuthObject: e.AuthObject,
			Field:      e.Field,
			Value:      e.Value,
			Activity:   e.Activity,
			System:     e.System,
		}
	}
	return out
}

// UsersInScope returns user ids matching the filter. Empty filter
// fields match everything.
func (d *Directory) UsersInScope(_ context.Context, filter contracts.ScopeFilter) ([]string, error) {
	var ids []string
	for _, u := range d.doc.Users {
		if len(filter.Departments) > 0 && !containsFold(filter.Departments, u.Department) {
			continue
		}
		if len(filter.UserTypes) > 0 && !containsFold(filter.UserTypes, u.UserType) {
			continue
		}
		if len(filter.Systems) > 0 && !d.userTouchesSystem(&u, filter.Systems) {
			continue
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (d *Directory) userTouchesSystem(u *directoryUser, systems []string) bool {
	for _, e := range u.Entitlements {
		if containsFold(systems, e.System) {
			return true
		}
	}
	for _, g := range u.Grants {
		if containsFold(systems, g.System) {
			return true
		}
	}
	return false
}

// EntitlementsOf returns the fine-grained grants of one user.
func (d *Directory) EntitlementsOf(_ context.Context, userID string) ([]contracts.Entitlement, error) {
	u, err := d.user(userID)
	if err != nil {
		return nil, err
	}
	return mapEntitlements(u.Entitlements), nil
}

// RolesOf returns the role assignments of one user.
func (d *Directory) RolesOf(_ context.Context, userID string) ([]string, error) {
	u, err := d.user(userID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), u.Roles...), nil
}

// UserAccessOf assembles the full snapshot for one user.
func (d *Directory) UserAccessOf(_ context.Context, userID string) (*contracts.UserAccess, error) {
	u, err := d.user(userID)
	if err != nil {
		return nil, err
	}
	return &contracts.UserAccess{
		UserID:       u.ID,
		UserName:     u.Name,
		Email:        u.Email,
		Department:   u.Department,
		CostCenter:   u.CostCenter,
		CompanyCode:  u.CompanyCode,
		UserType:     u.UserType,
		Roles:        append([]string(nil), u.Roles...),
		Profiles:     append([]string(nil), u.Profiles...),
		Entitlements: mapEntitlements(u.Entitlements),
	}, nil
}

// CheckFirefighterAvailability reports the state of an emergency id.
func (d *Directory) CheckFirefighterAvailability(_ context.Context, ffID string) (*contracts.FirefighterStatus, error) {
	for _, ff := range d.doc.Firefighters {
		if ff.ID != ffID {
			continue
		}
		return &contracts.FirefighterStatus{
			FirefighterID: ff.ID,
			Available:     !ff.Locked,
			Locked:        ff.Locked,
			ValidTo:       ff.ValidTo,
			Owner:         ff.Owner,
		}, nil
	}
	return nil, faults.New(faults.NotFound, "firefighter id %s not in directory", ffID).Entity(ffID)
}

// ManagerOf resolves the line manager. Missing users or managerless
// users resolve to empty, not an error.
func (d *Directory) ManagerOf(_ context.Context, userID string) (string, error) {
	if u, ok := d.users[userID]; ok {
		return u.Manager, nil
	}
	return "", nil
}

// EmailOf resolves a user's address, falling back to the user id.
func (d *Directory) EmailOf(_ context.Context, userID string) (string, error) {
	if u, ok := d.users[userID]; ok && u.Email != "" {
		return u.Email, nil
	}
	return userID, nil
}

// NameOf resolves a display name.
func (d *Directory) NameOf(_ context.Context, userID string) (string, error) {
	if u, ok := d.users[userID]; ok && u.Name != "" {
		return u.Name, nil
	}
	return userID, nil
}

// RoleOwnerOf resolves the owners of a role.
func (d *Directory) RoleOwnerOf(_ context.Context, roleID string) ([]string, error) {
	return append([]string(nil), d.doc.RoleOwners[roleID]...), nil
}

// DataOwnerOf resolves the owners of a system.
func (d *Directory) DataOwnerOf(_ context.Context, system string) ([]string, error) {
	return append([]string(nil), d.doc.DataOwners[system]...), nil
}

// CostCenterOwnerOf resolves the owners of a cost center.
func (d *Directory) CostCenterOwnerOf(_ context.Context, costCenter string) ([]string, error) {
	return append([]string(nil), d.doc.CCOwners[costCenter]...), nil
}

// UsersWithFunction resolves a named approver pool.
func (d *Directory) UsersWithFunction(_ context.Context, function contracts.ApproverType) ([]string, error) {
	return append([]string(nil), d.doc.Functions[string(function)]...), nil
}

// Lookup resolves a requestable catalog entry.
func (d *Directory) Lookup(_ context.Context, accessID string) (*contracts.RequestedAccess, error) {
	e, ok := d.catalog[accessID]
	if !ok {
		return nil, faults.New(faults.NotFound, "access id %s not in catalog", accessID).Entity(accessID)
	}
	return &contracts.RequestedAccess{
		AccessID:      e.AccessID,
		AccessName:    e.AccessName,
		System:        e.System,
		Description:   e.Description,
		Entitlements:  mapEntitlements(e.Entitlements),
		FirefighterID: e.FirefighterID,
	}, nil
}

// GrantsOf enumerates the reviewable assignments of one user.
func (d *Directory) GrantsOf(_ context.Context, userID string) ([]certification.RoleGrant, error) {
	u, err := d.user(userID)
	if err != nil {
		return nil, err
	}
	grants := make([]certification.RoleGrant, len(u.Grants))
	for i, g := range u.Grants {
		grants[i] = certification.RoleGrant{
			AccessID:      g.AccessID,
			AccessName:    g.AccessName,
			System:        g.System,
			GrantedAt:     g.GrantedAt,
			BaseRiskScore: g.BaseRiskScore,
			Usage: contracts.UsageSummary{
				LastUsedAt:  g.LastUsedAt,
				UseCount90d: g.UseCount90d,
			},
		}
	}
	return grants, nil
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

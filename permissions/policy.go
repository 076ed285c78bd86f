// Package permissions evaluates role based access rules for resources,
// actions and record fields.
package permissions

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Wildcard matches any resource, action or field.
const Wildcard = "*"

// Standard actions.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"

	// ActionManage covers administrative operations such as editing the
	// policy itself.
	ActionManage = "manage"
)

// Built-in roles.
const (
	RoleAdministrator = "administrator"
	RoleEditor        = "editor"
	RoleContributor   = "contributor"
	RoleSubscriber    = "subscriber"
)

// ResourcePolicy is the resource guarding policy administration.
const ResourcePolicy = "policy"

// Validation errors.
var (
	ErrEmptyRole     = errors.New("permissions: role cannot be empty")
	ErrEmptyResource = errors.New("permissions: resource cannot be empty")
	ErrEmptyAction   = errors.New("permissions: action cannot be empty")
)

// Rule grants actions on one resource.
type Rule struct {
	Actions []string `json:"actions" yaml:"actions"`

	// OwnerOnly restricts the rule to records owned by the acting subject.
	OwnerOnly bool `json:"owner_only,omitempty" yaml:"owner_only,omitempty"`
}

// Allows reports whether the rule grants action.
func (r Rule) Allows(action string) bool {
	return slices.Contains(r.Actions, Wildcard) || slices.Contains(r.Actions, action)
}

// Fields is a field visibility policy. Denied always wins over Allowed.
type Fields struct {
	Allowed []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Denied  []string `json:"denied,omitempty" yaml:"denied,omitempty"`
}

// Policy maps role -> resource -> rule, plus per-role field policies. The
// "*" resource applies to every resource and the "*" fields entry applies to
// every role.
type Policy struct {
	Roles  map[string]map[string]Rule `json:"roles" yaml:"roles"`
	Fields map[string]Fields          `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Subject is the acting identity as seen by the policy.
type Subject struct {
	ID    string
	Roles []string
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	crud := []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete}
	return &Policy{
		Roles: map[string]map[string]Rule{
			RoleAdministrator: {Wildcard: {Actions: []string{Wildcard}}},
			RoleEditor:        {Wildcard: {Actions: crud}},
			RoleContributor: {Wildcard: {
				Actions:   []string{ActionRead, ActionCreate, ActionUpdate},
				OwnerOnly: true,
			}},
			RoleSubscriber: {Wildcard: {Actions: []string{ActionRead}}},
		},
		Fields: map[string]Fields{
			Wildcard: {
				Allowed: []string{Wildcard},
				Denied:  []string{"password", "password_hash", "secret"},
			},
		},
	}
}

// Validate checks the policy for empty names.
func (p *Policy) Validate() error {
	for role, resources := range p.Roles {
		if role == "" {
			return ErrEmptyRole
		}
		for resource, rule := range resources {
			if resource == "" {
				return fmt.Errorf("%w: role %q", ErrEmptyResource, role)
			}
			for _, a := range rule.Actions {
				if a == "" {
					return fmt.Errorf("%w: %s.%s", ErrEmptyAction, role, resource)
				}
			}
		}
	}
	for role := range p.Fields {
		if role == "" {
			return ErrEmptyRole
		}
	}
	return nil
}

// HasPermission reports whether any of s's roles grants action on resource.
// A wildcard resource rule is checked before the resource rule. An
// owner-only rule grants only when ownerID is empty or equals s.ID.
func (p *Policy) HasPermission(s Subject, resource, action, ownerID string) bool {
	for _, role := range s.Roles {
		rules := p.Roles[role]
		if rules == nil {
			continue
		}
		if rule, ok := rules[Wildcard]; ok && rule.Allows(action) && ownerMatches(rule, s, ownerID) {
			return true
		}
		if rule, ok := rules[resource]; ok && rule.Allows(action) && ownerMatches(rule, s, ownerID) {
			return true
		}
	}
	return false
}

func ownerMatches(r Rule, s Subject, ownerID string) bool {
	return !r.OwnerOnly || ownerID == "" || ownerID == s.ID
}

// CanReadField reports whether s may see field. Deny lists of every
// applicable entry are checked first.
func (p *Policy) CanReadField(field string, s Subject) bool {
	entries := p.fieldEntries(s)
	for _, f := range entries {
		if slices.Contains(f.Denied, field) {
			return false
		}
	}
	for _, f := range entries {
		if slices.Contains(f.Allowed, Wildcard) || slices.Contains(f.Allowed, field) {
			return true
		}
	}
	return false
}

func (p *Policy) fieldEntries(s Subject) []Fields {
	var out []Fields
	if f, ok := p.Fields[Wildcard]; ok {
		out = append(out, f)
	}
	for _, role := range s.Roles {
		if f, ok := p.Fields[role]; ok {
			out = append(out, f)
		}
	}
	return out
}

// FilterFields returns a copy of record without the fields s may not read.
func (p *Policy) FilterFields(record map[string]any, s Subject) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		if p.CanReadField(k, s) {
			out[k] = v
		}
	}
	return out
}

// Capabilities lists the resource:action pairs granted to s, sorted.
// Owner-only grants carry an ":own" suffix.
func (p *Policy) Capabilities(s Subject) []string {
	set := make(map[string]struct{})
	for _, role := range s.Roles {
		for resource, rule := range p.Roles[role] {
			for _, action := range rule.Actions {
				c := resource + ":" + action
				if rule.OwnerOnly {
					c += ":own"
				}
				set[c] = struct{}{}
			}
		}
	}
	caps := make([]string, 0, len(set))
	for c := range set {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}

// Clone returns a deep copy of p.
func (p *Policy) Clone() *Policy {
	c := &Policy{
		Roles:  make(map[string]map[string]Rule, len(p.Roles)),
		Fields: make(map[string]Fields, len(p.Fields)),
	}
	for role, resources := range p.Roles {
		rr := make(map[string]Rule, len(resources))
		for res, rule := range resources {
			rr[res] = Rule{Actions: slices.Clone(rule.Actions), OwnerOnly: rule.OwnerOnly}
		}
		c.Roles[role] = rr
	}
	for role, f := range p.Fields {
		c.Fields[role] = Fields{Allowed: slices.Clone(f.Allowed), Denied: slices.Clone(f.Denied)}
	}
	return c
}

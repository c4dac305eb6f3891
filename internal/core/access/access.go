// Package access holds the capability grants consulted before every
// privileged operation. Each protected component (registry or engine) owns
// one Set; there is no global role table.
package access

import "herovault.gg/internal/protocol"

type Capability string

const (
	Admin   Capability = "admin"
	Manager Capability = "manager"
	Spawner Capability = "spawner"
	Setter  Capability = "setter"
	Oracle  Capability = "oracle"
)

var known = map[Capability]struct{}{
	Admin:   {},
	Manager: {},
	Spawner: {},
	Setter:  {},
	Oracle:  {},
}

func IsKnown(c Capability) bool {
	_, ok := known[c]
	return ok
}

// Set is one component's grant table. The constructing admin holds admin
// and manager, so stand-up configuration needs no self-grant step.
type Set struct {
	component string
	grants    map[string]map[Capability]struct{}
}

func NewSet(component, admin string) *Set {
	s := &Set{
		component: component,
		grants:    make(map[string]map[Capability]struct{}),
	}
	s.put(admin, Admin)
	s.put(admin, Manager)
	return s
}

func (s *Set) Component() string { return s.component }

func (s *Set) put(principal string, c Capability) {
	m := s.grants[principal]
	if m == nil {
		m = make(map[Capability]struct{})
		s.grants[principal] = m
	}
	m[c] = struct{}{}
}

// Grant gives principal the capability. Only admins may grant. Granting an
// already-held capability is a no-op.
func (s *Set) Grant(caller, principal string, c Capability) error {
	if err := s.Require(caller, Admin); err != nil {
		return err
	}
	if !IsKnown(c) {
		return protocol.Errf(protocol.ErrInvalidInput, "unknown capability %q", c)
	}
	s.put(principal, c)
	return nil
}

// Revoke removes the capability from principal. Only admins may revoke.
func (s *Set) Revoke(caller, principal string, c Capability) error {
	if err := s.Require(caller, Admin); err != nil {
		return err
	}
	if m := s.grants[principal]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(s.grants, principal)
		}
	}
	return nil
}

func (s *Set) Has(principal string, c Capability) bool {
	m := s.grants[principal]
	if m == nil {
		return false
	}
	_, ok := m[c]
	return ok
}

// Require returns E_ACCESS_DENIED naming the principal and the missing
// capability.
func (s *Set) Require(principal string, c Capability) error {
	if s.Has(principal, c) {
		return nil
	}
	return protocol.Errf(protocol.ErrAccessDenied,
		"account %s is missing capability %s on %s", principal, c, s.component)
}

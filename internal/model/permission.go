package model

import (
	"encoding/json"
	"time"
)

// Reserved and well-known permission identifiers.
const (
	PermAdminTotal     = "admin-total"
	PermManageUsers    = "manage-users"
	PermViewUsers      = "view-users"
	PermAccessPanel    = "access-panel"
	PermChangePassword = "change-password"

	PermCreateReferral   = "create-referral"
	PermViewReferrals    = "view-referrals"
	PermAlterStatus      = "alter-status"
	PermViewRegulation   = "view-regulation"
	PermRecordAttendance = "record-attendance"
)

// DefaultPermissions is the catalog ensured at bootstrap.
var DefaultPermissions = []string{
	PermAdminTotal,
	PermManageUsers,
	PermViewUsers,
	PermAccessPanel,
	PermChangePassword,
	PermCreateReferral,
	PermViewReferrals,
	PermAlterStatus,
	PermViewRegulation,
	PermRecordAttendance,
}

// Permission is one entry of the permission catalog.
type Permission struct {
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PermissionSet is an insertion-ordered set of permission identifiers.
// The zero value is an empty set ready to use.
type PermissionSet struct {
	names []string
}

func NewPermissionSet(names ...string) PermissionSet {
	var s PermissionSet
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts name and reports whether the set changed.
func (s *PermissionSet) Add(name string) bool {
	if name == "" || s.Contains(name) {
		return false
	}
	s.names = append(s.names, name)
	return true
}

// Remove deletes name and reports whether the set changed.
func (s *PermissionSet) Remove(name string) bool {
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i:i], s.names[i+1:]...)
			return true
		}
	}
	return false
}

func (s PermissionSet) Contains(name string) bool {
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

func (s PermissionSet) Len() int {
	return len(s.names)
}

// Names returns a copy of the members in insertion order.
func (s PermissionSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Filter returns the members accepted by keep, preserving order.
func (s PermissionSet) Filter(keep func(string) bool) PermissionSet {
	var out PermissionSet
	for _, n := range s.names {
		if keep(n) {
			out.names = append(out.names, n)
		}
	}
	return out
}

// Union returns a new set holding the members of s followed by the new
// members of other.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := NewPermissionSet(s.names...)
	for _, n := range other.names {
		out.Add(n)
	}
	return out
}

func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s.names) != len(other.names) {
		return false
	}
	for i := range s.names {
		if s.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewPermissionSet(names...)
	return nil
}

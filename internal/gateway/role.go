package gateway

import "strings"

// Role is a tagged value with capability predicates. Roles arrive in tokens with arbitrary casing; Normalize before
// comparing.
type Role string

// Known roles. Any other role is still valid: it joins only its own role room and gets no extra capabilities.
const (
	RoleOperator           Role = "operator"
	RoleCallcentreOperator Role = "callcentre_operator"
	RoleDirector           Role = "director"
)

// NormalizeRole lower-cases a raw role claim.
func NormalizeRole(raw string) Role {
	return Role(strings.ToLower(raw))
}

// IsOperator reports whether the role is one of the operator synonyms.
func (r Role) IsOperator() bool {
	return r == RoleOperator || r == RoleCallcentreOperator
}

// MayActAsDirector reports whether the role carries director capabilities: joining the directors room and per-subject
// rooms belonging to other users.
func (r Role) MayActAsDirector() bool {
	return r == RoleDirector
}

// AutoJoinRooms returns the rooms joined automatically at authentication: the lower-cased role room itself, plus
// operators for the operator synonyms and directors for directors.
func (r Role) AutoJoinRooms() []string {
	rooms := []string{string(r)}
	switch {
	case r.IsOperator():
		rooms = append(rooms, RoomOperators)
	case r == RoleDirector:
		rooms = append(rooms, RoomDirectors)
	}
	return rooms
}

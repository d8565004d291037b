package model

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "ADMIN"
	UserRoleOperator UserRole = "OPERATOR"
	UserRoleViewer   UserRole = "VIEWER"
)

func (r UserRole) Valid() bool {
	return r == UserRoleAdmin || r == UserRoleOperator || r == UserRoleViewer
}

type Principal struct {
	UserID uuid.UUID
	Role   UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

// CanManageRegistry проверяет, может ли пользователь менять реестр автомобилей и места
func (p Principal) CanManageRegistry() bool {
	return p.Role == UserRoleAdmin || p.Role == UserRoleOperator
}

func (p Principal) IsViewer() bool {
	return p.Role == UserRoleViewer
}

package model

import "strings"

// Role はユーザーの権限レベルを表す。値の集合は固定で、ロール間に包含関係はない。
type Role string

const (
	RoleUser         Role = "USER"
	RoleEmployee     Role = "EMPLOYEE"
	RoleCompanyAdmin Role = "COMPANY_ADMIN"
	RoleModerator    Role = "MODERATOR"
)

// AllRoles は定義済みの全ロールを返す。
func AllRoles() []Role {
	return []Role{RoleUser, RoleEmployee, RoleCompanyAdmin, RoleModerator}
}

// ParseRole は文字列をRoleに変換する。大文字小文字は区別しない。
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", NewInvalidRoleError(s)
	}
	return r, nil
}

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleEmployee, RoleCompanyAdmin, RoleModerator:
		return true
	}
	return false
}

// DisplayName はレスポンスメッセージ用の表示名を返す。
func (r Role) DisplayName() string {
	switch r {
	case RoleCompanyAdmin:
		return "admin"
	case RoleModerator:
		return "moderator"
	case RoleEmployee:
		return "employee"
	case RoleUser:
		return "user"
	}
	return strings.ToLower(string(r))
}

// HasAnyRole はheldのいずれかがallowedに含まれるかを返す。
func HasAnyRole(held []Role, allowed []Role) bool {
	for _, h := range held {
		for _, a := range allowed {
			if h == a {
				return true
			}
		}
	}
	return false
}

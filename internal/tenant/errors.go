package tenant

import "errors"

var (
	// ErrInvalidTenantName 角色名为空
	ErrInvalidTenantName = errors.New("invalid tenant name")
	// ErrDuplicateTenant 角色已存在
	ErrDuplicateTenant = errors.New("tenant already exists")
	// ErrTenantNotFound 角色不存在
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrSwitchSuperseded 排队中的切换请求被更新的请求取代
	ErrSwitchSuperseded = errors.New("tenant switch superseded by a newer request")
)

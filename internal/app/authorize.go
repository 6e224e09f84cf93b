package app

import "github.com/transfa/agentpay-service/internal/domain"

// Authorize allows the principal through when its role is one of allowed.
func Authorize(principal *domain.Principal, resource string, allowed ...domain.Role) error {
	if principal == nil {
		return ErrUnauthenticated
	}
	for _, role := range allowed {
		if principal.Role == role {
			return nil
		}
	}
	return &ForbiddenError{Role: principal.Role, Resource: resource}
}

package api

import (
	"context"

	"github.com/platinummonkey/dataroom/pkg/permissions"
)

// AuditAuthorizer lets members with the group-activity capability read the
// audit log of their data room
type AuditAuthorizer struct {
	resolver *permissions.Resolver
}

// NewAuditAuthorizer creates an audit.Authorizer backed by the resolver
func NewAuditAuthorizer(resolver *permissions.Resolver) *AuditAuthorizer {
	return &AuditAuthorizer{resolver: resolver}
}

// CanReadAuditLog implements audit.Authorizer
func (a *AuditAuthorizer) CanReadAuditLog(ctx context.Context, userID, dataRoomID string) (bool, error) {
	caps, err := a.resolver.ResolveCapabilities(ctx, userID, dataRoomID)
	if err != nil {
		return false, err
	}
	return caps.CanViewGroupActivity, nil
}

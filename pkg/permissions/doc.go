// Package permissions resolves effective document and folder permissions
// for data room users.
//
// Documents and folders share one seven-flag PermissionSet and one resolver;
// a ResourceKind selects the backing tables. Group grants are OR-combined, a
// per-user grant replaces the group result, administrators get full access
// and everything else is denied.
//
//	resolver := permissions.NewResolver(permissions.NewStore(db),
//		permissions.WithCache(permissions.NewCache(redisClient, permissions.DefaultCacheConfig(), metrics, logger)),
//	)
//	ok, err := resolver.CanDownloadDocument(ctx, userID, documentID, permissions.DownloadPDF)
//
// Writes go through Store; callers invalidate the resolver cache afterwards.
package permissions

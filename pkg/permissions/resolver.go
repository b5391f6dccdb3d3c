package permissions

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/dataroom/pkg/observability"
)

var resolverTracer = otel.Tracer("dataroom/permissions")

// Resolver computes effective permissions for a user on a document or folder.
//
// Resolution order:
//  1. the resource's data room scopes which group memberships count
//  2. membership in an ADMINISTRATOR group yields full access
//  3. a user override replaces the group-derived result verbatim
//  4. otherwise group grants are OR-combined
//  5. no groups and no override denies everything
//
// Absence of access is data, not an error; only store failures are returned.
type Resolver struct {
	store   Reader
	cache   *Cache
	metrics *observability.Metrics
	logger  *observability.Logger
	flight  singleflight.Group

	// generation is bumped by every invalidation; a store read only fills
	// the cache if no invalidation happened while it ran
	generation atomic.Uint64
}

// sharedResolveTimeout bounds a store read shared by concurrent callers,
// which runs detached from any single caller's context
const sharedResolveTimeout = 10 * time.Second

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithCache enables the resolution cache
func WithCache(cache *Cache) ResolverOption {
	return func(r *Resolver) { r.cache = cache }
}

// WithMetrics records resolution metrics
func WithMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = metrics }
}

// WithLogger sets the resolver logger
func WithLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a resolver over the given store
func NewResolver(store Reader, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = observability.Discard()
	}
	return r
}

// Resolve returns the effective permission set
func (r *Resolver) Resolve(ctx context.Context, kind ResourceKind, userID, resourceID string) (PermissionSet, error) {
	res, err := r.ResolveDetailed(ctx, kind, userID, resourceID)
	return res.Permissions, err
}

// ResolveDetailed returns the effective permission set and the rule that
// produced it
func (r *Resolver) ResolveDetailed(ctx context.Context, kind ResourceKind, userID, resourceID string) (Resolution, error) {
	if !kind.Valid() {
		return Resolution{}, fmt.Errorf("%w: unknown resource kind %q", ErrInvalidInput, kind)
	}
	if userID == "" || resourceID == "" {
		return Resolution{Source: SourceNone}, nil
	}

	ctx, span := resolverTracer.Start(ctx, "Resolve",
		trace.WithAttributes(
			attribute.String("resource.kind", string(kind)),
			attribute.String("resource.id", resourceID),
		),
	)
	defer span.End()

	start := time.Now()

	if r.cache != nil {
		if res, ok := r.cache.Get(ctx, kind, resourceID, userID); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return res, nil
		}
	}

	// Callers arriving after an invalidation get a new flight key and never
	// join a read that started before it.
	gen := r.generation.Load()
	key := fmt.Sprintf("%d|%s", gen, cacheKey(kind, resourceID, userID))
	ch := r.flight.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedResolveTimeout)
		defer cancel()

		res, err := r.resolveFromStore(fetchCtx, kind, userID, resourceID)
		if err != nil {
			return nil, err
		}
		if r.cache != nil && r.generation.Load() == gen {
			r.cache.Set(fetchCtx, kind, resourceID, userID, res)
			// An invalidation that raced the write may have run its delete
			// before the Set landed.
			if r.generation.Load() != gen {
				r.cache.Delete(fetchCtx, kind, resourceID, userID)
			}
		}
		return res, nil
	})

	var res Resolution
	select {
	case out := <-ch:
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, "permission resolution failed")
			return Resolution{}, out.Err
		}
		res = out.Val.(Resolution)
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}

	span.SetAttributes(attribute.String("resolution.source", string(res.Source)))
	r.metrics.ObserveResolution(string(kind), string(res.Source), time.Since(start))
	return res, nil
}

func (r *Resolver) resolveFromStore(ctx context.Context, kind ResourceKind, userID, resourceID string) (Resolution, error) {
	dataRoomID, err := r.store.ResourceDataRoom(ctx, kind, resourceID)
	if errors.Is(err, ErrNotFound) {
		return Resolution{Source: SourceNone}, nil
	}
	if err != nil {
		return Resolution{}, err
	}

	var (
		groups   []Group
		grants   []PermissionSet
		override *PermissionSet
		isAdmin  bool
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		groups, err = r.store.UserGroups(gctx, userID, dataRoomID)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(groups))
		for _, group := range groups {
			if group.Type == GroupTypeAdministrator {
				isAdmin = true
				return nil
			}
			ids = append(ids, group.ID)
		}

		grants, err = r.store.GroupGrants(gctx, kind, resourceID, ids)
		return err
	})

	g.Go(func() error {
		var err error
		override, err = r.store.UserGrant(gctx, kind, resourceID, userID)
		return err
	})

	if err := g.Wait(); err != nil {
		return Resolution{}, fmt.Errorf("failed to resolve %s permissions: %w", kind, err)
	}

	return combine(isAdmin, grants, override), nil
}

// combine applies the precedence rules to already loaded rows
func combine(isAdmin bool, grants []PermissionSet, override *PermissionSet) Resolution {
	if isAdmin {
		return Resolution{Permissions: FullAccess(), Source: SourceAdministrator}
	}
	if override != nil {
		return Resolution{Permissions: *override, Source: SourceUserOverride}
	}
	if len(grants) == 0 {
		return Resolution{Source: SourceNone}
	}

	var effective PermissionSet
	for _, grant := range grants {
		effective = effective.Or(grant)
	}
	return Resolution{Permissions: effective, Source: SourceGroups}
}

// ResolveCapabilities returns the data-room level flags of a user. Flags are
// OR-combined over CUSTOM groups; any ADMINISTRATOR group grants all of them.
func (r *Resolver) ResolveCapabilities(ctx context.Context, userID, dataRoomID string) (GroupCapabilities, error) {
	groups, err := r.store.UserGroups(ctx, userID, dataRoomID)
	if err != nil {
		return GroupCapabilities{}, fmt.Errorf("failed to resolve capabilities: %w", err)
	}

	var caps GroupCapabilities
	for _, group := range groups {
		switch group.Type {
		case GroupTypeAdministrator:
			return allCapabilities(), nil
		case GroupTypeCustom:
			caps = caps.Or(group.Capabilities)
		}
	}
	return caps, nil
}

// CanViewDocument reports whether the user may view the document
func (r *Resolver) CanViewDocument(ctx context.Context, userID, documentID string) (bool, error) {
	return r.has(ctx, KindDocument, userID, documentID, CapView)
}

// CanDownloadDocument reports whether the user may download the document in
// the given form
func (r *Resolver) CanDownloadDocument(ctx context.Context, userID, documentID string, kind DownloadKind) (bool, error) {
	p, err := r.Resolve(ctx, KindDocument, userID, documentID)
	if err != nil {
		return false, err
	}
	return p.CanDownload(kind), nil
}

// CanManageDocument reports whether the user may manage the document
func (r *Resolver) CanManageDocument(ctx context.Context, userID, documentID string) (bool, error) {
	return r.has(ctx, KindDocument, userID, documentID, CapManage)
}

// CanViewFolder reports whether the user may view the folder
func (r *Resolver) CanViewFolder(ctx context.Context, userID, folderID string) (bool, error) {
	return r.has(ctx, KindFolder, userID, folderID, CapView)
}

// CanUploadToFolder reports whether the user may upload into the folder
func (r *Resolver) CanUploadToFolder(ctx context.Context, userID, folderID string) (bool, error) {
	return r.has(ctx, KindFolder, userID, folderID, CapUpload)
}

// CanManageFolder reports whether the user may manage the folder
func (r *Resolver) CanManageFolder(ctx context.Context, userID, folderID string) (bool, error) {
	return r.has(ctx, KindFolder, userID, folderID, CapManage)
}

func (r *Resolver) has(ctx context.Context, kind ResourceKind, userID, resourceID string, c Capability) (bool, error) {
	p, err := r.Resolve(ctx, kind, userID, resourceID)
	if err != nil {
		return false, err
	}
	return p.Has(c), nil
}

// InvalidateResource drops cached resolutions after a grant change
func (r *Resolver) InvalidateResource(ctx context.Context, kind ResourceKind, resourceID string) {
	r.generation.Add(1)
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateResource(ctx, kind, resourceID); err != nil {
		r.logger.WithError(err).WithField("resource_id", resourceID).Warn("Permission cache invalidation failed")
	}
}

// InvalidateUser drops cached resolutions after a membership change
func (r *Resolver) InvalidateUser(ctx context.Context, userID string) {
	r.generation.Add(1)
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateUser(ctx, userID); err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Warn("Permission cache invalidation failed")
	}
}

// InvalidateAll drops every cached resolution, used after group deletion
func (r *Resolver) InvalidateAll(ctx context.Context) {
	r.generation.Add(1)
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateAll(ctx); err != nil {
		r.logger.WithError(err).Warn("Permission cache invalidation failed")
	}
}

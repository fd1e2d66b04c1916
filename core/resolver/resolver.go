package resolver

import (
	"context"
	"fmt"
	"time"

	"RadioRoyal/logger"
	"RadioRoyal/model"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a resolved direct URL stays usable.
const DefaultTTL = 10 * time.Minute

// SourceCache stores resolved direct URLs. Implementations must be safe for
// concurrent use.
type SourceCache interface {
	Get(ctx context.Context, key string) (model.ResolvedSource, bool, error)
	Set(ctx context.Context, src model.ResolvedSource) error
}

// Resolver turns external references into direct, proxyable URLs.
type Resolver struct {
	tool    Tool
	cache   SourceCache
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	group   singleflight.Group
}

// New creates a Resolver. ttl <= 0 selects DefaultTTL.
func New(tool Tool, cache SourceCache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{tool: tool, cache: cache, ttl: ttl, timeout: 45 * time.Second, now: time.Now}
}

// ResolveDirectURL canonicalizes ref and returns its direct media URL,
// consulting the cache first. Concurrent misses for the same reference
// share one tool invocation.
func (r *Resolver) ResolveDirectURL(ctx context.Context, ref string) (string, error) {
	key, err := Canonicalize(ref)
	if err != nil {
		return "", err
	}

	if src, ok := r.lookup(ctx, key); ok {
		return src.DirectURL, nil
	}

	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		// 再查一次，前一个 flight 可能刚写入
		if src, ok := r.lookup(ctx, key); ok {
			return src.DirectURL, nil
		}
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		direct, err := r.tool.DirectURL(callCtx, key)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
		}
		src := model.ResolvedSource{Key: key, DirectURL: direct, ExpiresAt: r.now().Add(r.ttl)}
		if err := r.cache.Set(callCtx, src); err != nil {
			logger.Warn("resolver cache write failed", logger.String("key", key), logger.ErrorField(err))
		}
		logger.Info("resolved source", logger.String("key", key))
		return direct, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		logger.Debug("resolution shared", logger.String("key", key))
	}
	return v.(string), nil
}

func (r *Resolver) lookup(ctx context.Context, key string) (model.ResolvedSource, bool) {
	src, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("resolver cache read failed", logger.String("key", key), logger.ErrorField(err))
		return model.ResolvedSource{}, false
	}
	if !ok || src.Expired(r.now()) {
		return model.ResolvedSource{}, false
	}
	return src, true
}

// FetchTitle returns the display title for ref.
func (r *Resolver) FetchTitle(ctx context.Context, ref string) (string, error) {
	key, err := Canonicalize(ref)
	if err != nil {
		return "", err
	}
	title, err := r.tool.Title(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	return title, nil
}

// ListPlaylistItems lists a playlist in order. Malformed references fail
// before the tool is invoked.
func (r *Resolver) ListPlaylistItems(ctx context.Context, ref string) ([]model.PlaylistItem, error) {
	list, err := CanonicalPlaylist(ref)
	if err != nil {
		return nil, err
	}
	items, err := r.tool.Playlist(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	return items, nil
}

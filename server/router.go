package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	syncx "github.com/ije/gox/sync"
	"github.com/ije/rex"
	"github.com/webwriter-app/webwriter-sub004/internal/compiler"
	"github.com/webwriter-app/webwriter-sub004/internal/importmap"
	"github.com/webwriter-app/webwriter-sub004/internal/localstore"
	"github.com/webwriter-app/webwriter-sub004/internal/npm"
	"github.com/webwriter-app/webwriter-sub004/internal/registry"
	"github.com/webwriter-app/webwriter-sub004/server/config"
	"github.com/webwriter-app/webwriter-sub004/server/storage"
)

const (
	ccImmutable = "public, max-age=31536000, immutable"
	ccNoCache   = "no-cache"
	ctJSON      = "application/json; charset=utf-8"
	maxBodySize = 4 << 20
)

// Logger is satisfied by *log.Logger of gox.
type Logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

type Options struct {
	// the origin the server is reachable at, local packages are linked under it
	Origin       string
	Fetcher      *registry.Fetcher
	Cache        storage.Cache
	CacheTTL     time.Duration
	Snippets     storage.DBConn
	BanList      config.BanList
	BuildTarget  string
	UserAgent    string
	FetchTimeout int
	Logger       Logger
}

// Response is the result of a routed request.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	// set for results that do not depend on local packages
	Cacheable bool
}

// Router dispatches actions to the import map generator, the compiler, the
// package metadata fetcher and the snippet store.
type Router struct {
	origin      string
	fetcher     *registry.Fetcher
	resolver    *importmap.Resolver
	providers   importmap.Providers
	cache       *responseCache
	cacheLock   syncx.KeyedMutex
	snippets    storage.DBConn
	banList     config.BanList
	buildTarget string
	logger      Logger
}

func NewRouter(opts Options) (*Router, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("router: missing metadata fetcher")
	}
	origin, err := url.Parse(strings.TrimSuffix(opts.Origin, "/") + "/")
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("router: invalid origin %q", opts.Origin)
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	buildTarget := opts.BuildTarget
	if buildTarget == "" {
		buildTarget = compiler.DefaultTarget
	}
	if !compiler.IsTarget(buildTarget) {
		return nil, fmt.Errorf("router: invalid build target %q", buildTarget)
	}

	remote := &importmap.RemoteProvider{
		Mirror:    opts.Fetcher.Mirror(),
		UserAgent: opts.UserAgent,
		Timeout:   opts.FetchTimeout,
	}
	local := &importmap.LocalProvider{
		Origin: origin.String(),
		Bridge: opts.Fetcher.Bridge(),
	}
	resolver := importmap.NewResolver(remote, local, opts.Fetcher, opts.Fetcher, logger)
	resolver.BaseURL = origin

	r := &Router{
		origin:      strings.TrimSuffix(origin.String(), "/"),
		fetcher:     opts.Fetcher,
		resolver:    resolver,
		providers:   importmap.Providers{local, remote},
		snippets:    opts.Snippets,
		banList:     opts.BanList,
		buildTarget: buildTarget,
		logger:      logger,
	}
	if opts.Cache != nil {
		r.cache = &responseCache{store: opts.Cache, ttl: opts.CacheTTL, logger: logger}
		if err := r.cache.checkInstall(VERSION); err != nil {
			return nil, fmt.Errorf("router: %w", err)
		}
	}
	return r, nil
}

// Route classifies the request, serves it from the cache when possible and
// dispatches it otherwise. It never panics.
func (r *Router) Route(ctx context.Context, method string, u *url.URL, body []byte) (res *Response) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			r.logger.Errorf("panic while routing %s %s: %v\n%s", method, u.String(), v, debug.Stack())
			res = errorResponse(http.StatusInternalServerError, "internal server error")
		}
	}()

	a, err := ParseAction(method, u, body)
	if err != nil {
		return r.fail(u, err)
	}
	res, err = r.dispatch(ctx, a)
	if err != nil {
		return r.fail(u, err)
	}
	r.logger.Debugf("%s %s -> %d in %v", a.Method, a.CanonicalURL(), res.Status, time.Since(start))
	return res
}

func (r *Router) dispatch(ctx context.Context, a *Action) (*Response, error) {
	if a.Collection == Snippets {
		return r.snippet(ctx, a)
	}

	// resolve the identifier set first, it decides whether the cache is used
	ids, err := r.identifiers(a)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if r.banList.IsPackageBanned(id.String()) {
			return nil, &bannedError{id.PkgName()}
		}
	}
	local := false
	for _, id := range ids {
		if id.IsLocal() {
			local = true
			break
		}
	}
	bypass := local || r.cache == nil

	key := a.CanonicalURL()
	if !bypass {
		if res, ok := r.cache.get(key); ok {
			return res, nil
		}
		unlock := r.cacheLock.Lock(key)
		defer unlock()
		// another request may have produced it meanwhile
		if res, ok := r.cache.get(key); ok {
			return res, nil
		}
	}

	var res *Response
	switch a.Collection {
	case Assets:
		res, err = r.asset(ctx, a)
	case Packages:
		res, err = r.packages(ctx, ids)
	case ImportMaps:
		res, err = r.importMap(ctx, a)
	case Bundles:
		res, err = r.bundle(ctx, a)
	default:
		err = &badRequestError{"unknown collection"}
	}
	if err != nil {
		return nil, err
	}

	if local {
		res.Cacheable = false
	}
	if !bypass && res.Cacheable && res.Status >= 200 && res.Status < 300 {
		r.cache.put(key, res)
	}
	return res, nil
}

// identifiers returns the packages an action refers to.
func (r *Router) identifiers(a *Action) ([]npm.Identifier, error) {
	switch a.Collection {
	case Packages:
		ids := make([]npm.Identifier, 0, len(a.IDs))
		for _, s := range a.IDs {
			id, err := npm.ParseIdentifier(s)
			if err != nil {
				return nil, &badRequestError{"invalid id '" + s + "': " + err.Error()}
			}
			ids = append(ids, id)
		}
		return ids, nil
	case ImportMaps:
		if a.Flag("pkg") {
			descriptors, err := parsePkgDescriptors(a.IDs)
			if err != nil {
				return nil, err
			}
			ids := make([]npm.Identifier, len(descriptors))
			for i, d := range descriptors {
				ids[i] = d.Identifier()
			}
			return ids, nil
		}
	}
	specs, err := a.Specifiers()
	if err != nil {
		return nil, err
	}
	return npm.UniqueIdentifiers(specs), nil
}

// linksLocal reports whether any of the urls is served by the local store bridge.
func (r *Router) linksLocal(urls []string) bool {
	for _, u := range urls {
		if strings.HasPrefix(u, r.origin+"/") {
			return true
		}
	}
	return false
}

func (r *Router) fail(u *url.URL, err error) *Response {
	var (
		badRequest    *badRequestError
		notAllowed    *methodNotAllowedError
		banned        *bannedError
		validation    *compiler.ValidationError
		compileErr    *compiler.CompileError
		notFound      *importmap.ModuleNotFoundError
		handleMissing *importmap.HandleMissingError
	)
	switch {
	case errors.As(err, &badRequest), errors.As(err, &validation):
		return errorResponse(http.StatusBadRequest, err.Error())
	case errors.As(err, &compileErr):
		body, _ := json.Marshal(compileErr)
		return &Response{Status: http.StatusBadRequest, ContentType: ctJSON, Body: body}
	case errors.As(err, &notAllowed):
		return errorResponse(http.StatusMethodNotAllowed, err.Error())
	case errors.As(err, &banned):
		return errorResponse(http.StatusForbidden, err.Error())
	case errors.As(err, &notFound), errors.As(err, &handleMissing),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, localstore.ErrNotFound),
		errors.Is(err, localstore.ErrHandleMissing),
		errors.Is(err, storage.ErrNotFound):
		return errorResponse(http.StatusNotFound, err.Error())
	}
	r.logger.Errorf("%s: %v", u.String(), err)
	return errorResponse(http.StatusInternalServerError, "internal server error")
}

// Handle exposes the router as a rex handler.
func (r *Router) Handle() rex.Handle {
	return func(ctx *rex.Context) any {
		u := *ctx.R.URL
		if u.Path == "/_bundles" {
			query := u.Query()
			if query.Get("target") == "" && query.Get("engine") == "" {
				if engine, ok := compiler.EngineOf(ctx.UserAgent()); ok {
					query.Set("engine", compiler.FormatEngine(engine))
					u.RawQuery = query.Encode()
				}
				appendVaryHeader(ctx.W.Header(), "User-Agent")
			}
		}

		var body []byte
		if ctx.R.Method == http.MethodPost || ctx.R.Method == http.MethodPut {
			var err error
			body, err = io.ReadAll(io.LimitReader(ctx.R.Body, maxBodySize))
			ctx.R.Body.Close()
			if err != nil {
				return rex.Status(http.StatusBadRequest, "could not read the request body")
			}
		}

		res := r.Route(ctx.R.Context(), ctx.R.Method, &u, body)
		ctx.SetHeader("Content-Type", res.ContentType)
		if res.Status >= 400 {
			ctx.SetHeader("Cache-Control", ccNoCache)
			return rex.Status(res.Status, res.Body)
		}
		if res.Cacheable {
			ctx.SetHeader("Cache-Control", ccImmutable)
		} else {
			ctx.SetHeader("Cache-Control", ccNoCache)
		}
		etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(res.Body))
		ctx.SetHeader("ETag", etag)
		if ctx.R.Header.Get("If-None-Match") == etag {
			return rex.Status(http.StatusNotModified, nil)
		}
		if ctx.R.Method == http.MethodHead {
			return rex.Status(res.Status, nil)
		}
		return rex.Status(res.Status, res.Body)
	}
}

func errorResponse(status int, message string) *Response {
	body, _ := json.Marshal(map[string]any{"error": map[string]any{"status": status, "message": message}})
	return &Response{Status: status, ContentType: ctJSON, Body: body}
}

func jsonResponse(v any, cacheable bool) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, ContentType: ctJSON, Body: body, Cacheable: cacheable}, nil
}

func appendVaryHeader(header http.Header, key string) {
	vary := header.Get("Vary")
	if vary == "" {
		header.Set("Vary", key)
	} else if !strings.Contains(vary, key) {
		header.Set("Vary", vary+", "+key)
	}
}

type bannedError struct {
	pkgName string
}

func (e *bannedError) Error() string {
	return "package " + e.pkgName + " is banned"
}

type nopLogger struct{}

func (nopLogger) Debugf(format string, v ...any) {}
func (nopLogger) Infof(format string, v ...any)  {}
func (nopLogger) Warnf(format string, v ...any)  {}
func (nopLogger) Errorf(format string, v ...any) {}

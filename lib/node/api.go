package node

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ValentinKolb/dGrid/lib/cache"
	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/container"
	"github.com/ValentinKolb/dGrid/lib/loader"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxValueSize limits the body of a PUT request.
const maxValueSize = 64 << 20

// --------------------------------------------------------------------------
// Errors and responses
// --------------------------------------------------------------------------

// apiError is an error with the HTTP status it is reported with.
type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

func badRequest(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: msg}
}

func notFound(msg string) *apiError {
	return &apiError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: msg}
}

// toAPIError maps the errors of the cache to HTTP errors.
func toAPIError(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	var perr *persistence.Error
	switch {
	case errors.Is(err, cache.ErrNullValue):
		return badRequest(err.Error())
	case errors.Is(err, persistence.ErrStoreDisabled):
		return &apiError{Status: http.StatusConflict, Code: "STORE_DISABLED", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &apiError{Status: http.StatusRequestTimeout, Code: "TIMEOUT", Message: err.Error()}
	case errors.As(err, &perr) && perr.Code == persistence.RetCInvalidOperation:
		return badRequest(perr.Msg)
	case errors.As(err, &perr) && perr.Code == persistence.RetCStoreUnavailable:
		return &apiError{Status: http.StatusServiceUnavailable, Code: "STORE_UNAVAILABLE", Message: perr.Msg}
	default:
		return &apiError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: err.Error()}
	}
}

type successEnvelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Err *apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, successEnvelope{Data: data})
}

// handlerFunc is an HTTP handler that reports failures as errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (h handlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h(w, r); err != nil {
		ae := toAPIError(err)
		if ae.Status >= http.StatusInternalServerError {
			log.Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
		}
		writeJSON(w, ae.Status, errorEnvelope{Err: ae})
	}
}

// --------------------------------------------------------------------------
// Router
// --------------------------------------------------------------------------

// api serves the admin API of a node.
type api struct {
	cache     *cache.Cache
	loader    *loader.Loader
	container *container.Container
}

// Handler returns the admin API of the node.
func (n *Node) Handler() http.Handler {
	return newRouter(&api{cache: n.cache, loader: n.loader, container: n.container})
}

func newRouter(a *api) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Method(http.MethodGet, "/stats", handlerFunc(a.stats))
	r.Method(http.MethodPost, "/stats/reset", handlerFunc(a.resetStats))
	r.Get("/metrics", a.metrics)

	r.Method(http.MethodGet, "/stores", handlerFunc(a.stores))
	r.Method(http.MethodPost, "/stores/{name}/disable", handlerFunc(a.disableStore))

	r.Route("/cache", func(r chi.Router) {
		r.Method(http.MethodGet, "/{key}", handlerFunc(a.get))
		r.Method(http.MethodPut, "/{key}", handlerFunc(a.put))
		r.Method(http.MethodDelete, "/{key}", handlerFunc(a.remove))
	})
	r.Method(http.MethodGet, "/keys", handlerFunc(a.keys))
	r.Method(http.MethodGet, "/entries", handlerFunc(a.entries))
	r.Method(http.MethodGet, "/size", handlerFunc(a.size))
	r.Method(http.MethodGet, "/groups/{group}", handlerFunc(a.group))
	return r
}

// requestLogger logs every request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

// flagsOf reads the command flags from the query: local=true skips the
// stores, exact=true disables the size optimization.
func flagsOf(r *http.Request) grid.Flag {
	var flags grid.Flag
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("local")); ok {
		flags |= grid.FlagSkipCacheLoad
	}
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("exact")); ok {
		flags |= grid.FlagSkipSizeOptimization
	}
	return flags
}

// limitOf reads the limit query parameter (0 = no limit).
func limitOf(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 0 {
		return 0, badRequest("invalid limit " + s)
	}
	return limit, nil
}

// --------------------------------------------------------------------------
// Statistics and stores
// --------------------------------------------------------------------------

type statsResponse struct {
	Loader    loader.StatsSnapshot `json:"loader"`
	Container container.Info       `json:"container"`
}

func (a *api) stats(w http.ResponseWriter, _ *http.Request) error {
	writeSuccess(w, statsResponse{
		Loader:    a.loader.Stats().Snapshot(),
		Container: a.container.Info(),
	})
	return nil
}

func (a *api) resetStats(w http.ResponseWriter, _ *http.Request) error {
	a.loader.Stats().Reset()
	writeSuccess(w, a.loader.Stats().Snapshot())
	return nil
}

func (a *api) metrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	a.loader.Stats().WritePrometheus(w)
}

func (a *api) stores(w http.ResponseWriter, _ *http.Request) error {
	stores := a.loader.Stores()
	if stores == nil {
		stores = []persistence.StoreStatus{}
	}
	writeSuccess(w, stores)
	return nil
}

func (a *api) disableStore(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if err := a.loader.DisableStore(name); err != nil {
		return notFound(err.Error())
	}
	writeSuccess(w, map[string]string{"disabled": name})
	return nil
}

// --------------------------------------------------------------------------
// Cache
// --------------------------------------------------------------------------

// get writes the raw value.
func (a *api) get(w http.ResponseWriter, r *http.Request) error {
	key := chi.URLParam(r, "key")
	e, found, err := a.cache.GetEntry(r.Context(), key, flagsOf(r))
	if err != nil {
		return err
	}
	if !found {
		return notFound("key not found")
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Version", strconv.FormatUint(e.Metadata.Version, 10))
	_, _ = w.Write(e.Value)
	return nil
}

// put stores the raw body, the optional lifespan query parameter is a
// duration (e.g. 30s).
func (a *api) put(w http.ResponseWriter, r *http.Request) error {
	key := chi.URLParam(r, "key")
	var lifespan time.Duration
	if s := r.URL.Query().Get("lifespan"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return badRequest("invalid lifespan " + s)
		}
		lifespan = d
	}

	value, err := io.ReadAll(io.LimitReader(r.Body, maxValueSize))
	if err != nil {
		return badRequest("failed to read request body")
	}
	if value == nil {
		value = []byte{}
	}

	prev, err := a.cache.PutWithLifespan(r.Context(), key, value, lifespan, flagsOf(r))
	if err != nil {
		return err
	}
	writeSuccess(w, map[string]any{"key": key, "replaced": prev != nil})
	return nil
}

func (a *api) remove(w http.ResponseWriter, r *http.Request) error {
	key := chi.URLParam(r, "key")
	removed, err := a.cache.Remove(r.Context(), key, flagsOf(r))
	if err != nil {
		return err
	}
	writeSuccess(w, map[string]any{"key": key, "removed": removed})
	return nil
}

// --------------------------------------------------------------------------
// Enumeration
// --------------------------------------------------------------------------

type entryDTO struct {
	Key      string `json:"key"`
	Value    []byte `json:"value"`
	Version  uint64 `json:"version"`
	ExpireAt int64  `json:"expire_at,omitempty"`
}

// collect drains the iterator into a slice of at most limit elements.
func collect[T, R any](it cursor.Iterator[T], limit int, fn func(T) R) ([]R, error) {
	defer it.Close()
	out := make([]R, 0)
	for it.Next() {
		out = append(out, fn(it.Value()))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, it.Err()
}

func (a *api) keys(w http.ResponseWriter, r *http.Request) error {
	limit, err := limitOf(r)
	if err != nil {
		return err
	}
	set, err := a.cache.KeySet(r.Context(), flagsOf(r)|grid.FlagRemoteIteration)
	if err != nil {
		return err
	}
	keys, err := collect(set.Iterator(), limit, func(k string) string { return k })
	if err != nil {
		return err
	}
	writeSuccess(w, keys)
	return nil
}

func (a *api) entries(w http.ResponseWriter, r *http.Request) error {
	limit, err := limitOf(r)
	if err != nil {
		return err
	}
	set, err := a.cache.EntrySet(r.Context(), flagsOf(r)|grid.FlagRemoteIteration)
	if err != nil {
		return err
	}
	entries, err := collect(set.Iterator(), limit, func(e grid.InternalEntry) entryDTO {
		return entryDTO{Key: e.Key, Value: e.Value, Version: e.Metadata.Version, ExpireAt: e.Metadata.ExpireAt}
	})
	if err != nil {
		return err
	}
	writeSuccess(w, entries)
	return nil
}

func (a *api) size(w http.ResponseWriter, r *http.Request) error {
	n, err := a.cache.Size(r.Context(), flagsOf(r))
	if err != nil {
		return err
	}
	writeSuccess(w, map[string]int{"size": n})
	return nil
}

func (a *api) group(w http.ResponseWriter, r *http.Request) error {
	members, err := a.cache.GetGroup(r.Context(), chi.URLParam(r, "group"), flagsOf(r))
	if err != nil {
		return err
	}
	writeSuccess(w, members)
	return nil
}

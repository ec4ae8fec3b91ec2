package node

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/ValentinKolb/dGrid/lib/common"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T) (*Node, *httptest.Server) {
	t.Helper()
	n, err := New(common.GridConfig{
		Statistics: true,
		Tiers:      []common.TierConfig{{Name: "l1", Type: common.TierTypeMemory}},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(n.Handler())
	t.Cleanup(func() {
		srv.Close()
		assert.NoError(t, n.Close())
	})
	return n, srv
}

// seedStore writes an entry to the store tier only.
func seedStore(t *testing.T, n *Node, key, value string) {
	t.Helper()
	s, err := n.persistence.Store("l1")
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), grid.InternalEntry{Key: key, Value: []byte(value)}))
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// data decodes the data field of a success response.
func data[T any](t *testing.T, body []byte) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	return env.Data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	require.NotNil(t, env.Err)
	return env.Err.Code
}

func TestHealth(t *testing.T) {
	_, srv := newTestNode(t)
	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestPutGetRemove(t *testing.T) {
	_, srv := newTestNode(t)

	resp, body := do(t, http.MethodPut, srv.URL+"/cache/a", "hello")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, false, data[map[string]any](t, body)["replaced"])

	resp, body = do(t, http.MethodGet, srv.URL+"/cache/a", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Version"))

	resp, body = do(t, http.MethodPut, srv.URL+"/cache/a", "world")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, data[map[string]any](t, body)["replaced"])

	resp, body = do(t, http.MethodDelete, srv.URL+"/cache/a", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, data[map[string]any](t, body)["removed"])

	resp, body = do(t, http.MethodGet, srv.URL+"/cache/a", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))
}

func TestEmptyBodyIsAValue(t *testing.T) {
	_, srv := newTestNode(t)

	resp, _ := do(t, http.MethodPut, srv.URL+"/cache/empty", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/cache/empty", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
}

func TestInvalidLifespan(t *testing.T) {
	_, srv := newTestNode(t)
	resp, body := do(t, http.MethodPut, srv.URL+"/cache/a?lifespan=soon", "x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_REQUEST", errorCode(t, body))
}

func TestReadThroughAndStats(t *testing.T) {
	n, srv := newTestNode(t)
	seedStore(t, n, "b", "from-store")

	resp, body := do(t, http.MethodGet, srv.URL+"/cache/b?local=true", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, string(body))

	resp, body = do(t, http.MethodGet, srv.URL+"/cache/b", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "from-store", string(body))
	assert.True(t, n.container.ContainsKey("b"))

	resp, body = do(t, http.MethodGet, srv.URL+"/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := data[statsResponse](t, body)
	assert.True(t, stats.Loader.Enabled)
	assert.Equal(t, uint64(1), stats.Loader.Loads)
	assert.Equal(t, 1, stats.Container.Entries)

	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dgrid_loader_loads_total 1")

	resp, body = do(t, http.MethodPost, srv.URL+"/stats/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, n.loader.Stats().Loads())
}

func TestEnumeration(t *testing.T) {
	n, srv := newTestNode(t)
	seedStore(t, n, "s1", "1")
	seedStore(t, n, "s2", "2")
	resp, _ := do(t, http.MethodPut, srv.URL+"/cache/c1", "3")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/keys", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	keys := data[[]string](t, body)
	sort.Strings(keys)
	assert.Equal(t, []string{"c1", "s1", "s2"}, keys)

	resp, body = do(t, http.MethodGet, srv.URL+"/keys?local=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"c1"}, data[[]string](t, body))

	resp, body = do(t, http.MethodGet, srv.URL+"/entries?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, data[[]entryDTO](t, body), 2)

	resp, body = do(t, http.MethodGet, srv.URL+"/entries?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = do(t, http.MethodGet, srv.URL+"/size", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, data[map[string]int](t, body)["size"])

	resp, body = do(t, http.MethodGet, srv.URL+"/size?local=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, data[map[string]int](t, body)["size"])
}

func TestGroups(t *testing.T) {
	n, srv := newTestNode(t)
	seedStore(t, n, "user#1", "alice")
	seedStore(t, n, "user#2", "bob")
	seedStore(t, n, "order#1", "book")

	resp, body := do(t, http.MethodGet, srv.URL+"/groups/user", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	members := data[map[string][]byte](t, body)
	assert.Equal(t, map[string][]byte{"user#1": []byte("alice"), "user#2": []byte("bob")}, members)
}

func TestStores(t *testing.T) {
	n, srv := newTestNode(t)
	seedStore(t, n, "hidden", "x")

	resp, body := do(t, http.MethodGet, srv.URL+"/stores", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stores := data[[]map[string]any](t, body)
	require.Len(t, stores, 1)
	assert.Equal(t, "l1", stores[0]["name"])
	assert.Equal(t, true, stores[0]["enabled"])

	resp, body = do(t, http.MethodPost, srv.URL+"/stores/nope/disable", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, string(body))

	resp, _ = do(t, http.MethodPost, srv.URL+"/stores/l1/disable", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, n.loader.Stores()[0].Enabled)

	resp, _ = do(t, http.MethodGet, srv.URL+"/cache/hidden", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(common.GridConfig{Tiers: []common.TierConfig{{Name: "r", Type: common.TierTypeRedis}}})
	assert.Error(t, err)
}

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagwatch/tagwatch/internal/model"
)

type fakeRegistry struct {
	mu      sync.Mutex
	cursors []string
	queries []url.Values
	pages   func(call int) (int, []string)
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v2/" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.URL.Path != "/v2/library/web/tags/list" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	f.mu.Lock()
	f.cursors = append(f.cursors, r.URL.Query().Get("last"))
	f.queries = append(f.queries, r.URL.Query())
	call := len(f.cursors)
	f.mu.Unlock()

	status, tags := f.pages(call)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusOK {
		json.NewEncoder(w).Encode(tagList{Name: "library/web", Tags: tags})
	}
}

func (f *fakeRegistry) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cursors...)
}

func generateTags(prefix string, n int) []string {
	tags := make([]string, n)
	for i := range tags {
		tags[i] = fmt.Sprintf("%s%05d", prefix, i)
	}
	return tags
}

func newTestResolver(t *testing.T, registry *fakeRegistry) (*Resolver, string) {
	t.Helper()
	server := httptest.NewServer(registry)
	t.Cleanup(server.Close)

	resolver := NewResolver(5 * time.Second)
	resolver.Keychain = authn.NewMultiKeychain()
	image := strings.TrimPrefix(server.URL, "http://") + "/library/web:1.0.0"
	return resolver, image
}

func TestResolveTagsSingleRequest(t *testing.T) {
	registry := &fakeRegistry{pages: func(int) (int, []string) {
		return http.StatusOK, []string{"1.0.0", "1.1.0", "2.0.0"}
	}}
	resolver, image := newTestResolver(t, registry)

	tags, err := resolver.ResolveTags(context.Background(), image)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.1.0", "2.0.0"}, tags)
	assert.Equal(t, []string{""}, registry.calls())
}

func TestResolveTagsFirstRequestHasNoCursor(t *testing.T) {
	first := generateTags("a", FullPageThreshold)
	registry := &fakeRegistry{pages: func(call int) (int, []string) {
		if call == 1 {
			return http.StatusOK, first
		}
		return http.StatusOK, nil
	}}
	resolver, image := newTestResolver(t, registry)

	_, err := resolver.ResolveTags(context.Background(), image)
	require.NoError(t, err)

	require.Len(t, registry.queries, 2)
	assert.False(t, registry.queries[0].Has("last"), "first request: %v", registry.queries[0])
	assert.NotEqual(t, "1.0.0", registry.queries[0].Get("last"))
	assert.Equal(t, "1500", registry.queries[0].Get("n"))
	assert.True(t, registry.queries[1].Has("last"))
	assert.Equal(t, first[len(first)-1], registry.queries[1].Get("last"))
}

func TestResolveTagsFollowsCursor(t *testing.T) {
	first := generateTags("a", FullPageThreshold)
	registry := &fakeRegistry{pages: func(call int) (int, []string) {
		if call == 1 {
			return http.StatusOK, first
		}
		return http.StatusOK, []string{"b1", "b2"}
	}}
	resolver, image := newTestResolver(t, registry)

	tags, err := resolver.ResolveTags(context.Background(), image)
	require.NoError(t, err)
	assert.Len(t, tags, FullPageThreshold+2)
	assert.Equal(t, []string{"", first[len(first)-1]}, registry.calls())
}

func TestResolveTagsStopsAtMaxAttempts(t *testing.T) {
	registry := &fakeRegistry{pages: func(call int) (int, []string) {
		return http.StatusOK, generateTags(fmt.Sprintf("p%d-", call), FullPageThreshold)
	}}
	resolver, image := newTestResolver(t, registry)

	tags, err := resolver.ResolveTags(context.Background(), image)
	require.NoError(t, err)
	assert.Len(t, tags, MaxAttempts*FullPageThreshold)
	assert.Len(t, registry.calls(), MaxAttempts)
}

func TestResolveTagsFailsOnLaterPage(t *testing.T) {
	registry := &fakeRegistry{pages: func(call int) (int, []string) {
		if call == 1 {
			return http.StatusOK, generateTags("a", FullPageThreshold)
		}
		return http.StatusInternalServerError, nil
	}}
	resolver, image := newTestResolver(t, registry)

	tags, err := resolver.ResolveTags(context.Background(), image)
	assert.Nil(t, tags)
	assert.True(t, errors.Is(err, model.ErrRegistry), "got %v", err)
}

func TestResolveTagsInvalidReference(t *testing.T) {
	resolver := NewResolver(time.Second)

	_, err := resolver.ResolveTags(context.Background(), "Not A Valid::Image")
	assert.True(t, errors.Is(err, ErrInvalidReference), "got %v", err)
	assert.True(t, errors.Is(err, model.ErrRegistry), "got %v", err)
}

func TestMaxTag(t *testing.T) {
	assert.Equal(t, "v2", maxTag([]string{"v10", "v2", "v1"}))
	assert.Equal(t, "", maxTag(nil))
}

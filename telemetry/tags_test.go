package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTaggedRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	return InjectTags(r)
}

func TestInjectTags_DefaultsEmpty(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)
	require.NotNil(t, tags)
	require.Empty(t, tags.Endpoint)
	require.Empty(t, tags.Owner)
}

func TestGetTags_NilWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	require.Nil(t, GetTags(r))
}

func TestSetEndpoint(t *testing.T) {
	r := newTaggedRequest()
	SetEndpoint(r, "images")
	require.Equal(t, "images", GetTags(r).Endpoint)
}

func TestSetEndpoint_NoopWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	SetEndpoint(r, "images") // should not panic
}

func TestSetOwner(t *testing.T) {
	r := newTaggedRequest()
	SetOwner(r, "cat/mila")
	require.Equal(t, "cat/mila", GetTags(r).Owner)
}

func TestTagsMutationVisibleThroughPointer(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)

	SetEndpoint(r, "uploads")
	SetOwner(r, "litter/4")

	require.Equal(t, "uploads", tags.Endpoint)
	require.Equal(t, "litter/4", tags.Owner)
}

package cattery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOwnerKey(t *testing.T) {
	tests := []struct {
		input   string
		want    OwnerKey
		wantErr bool
	}{
		{input: "cat/luna", want: OwnerKey{Kind: OwnerCat, ID: "luna"}},
		{input: "litter/42", want: OwnerKey{Kind: OwnerLitter, ID: "42"}},
		{input: "post/summer-kittens", want: OwnerKey{Kind: OwnerPost, ID: "summer-kittens"}},
		{input: "litterweek/7", want: OwnerKey{Kind: OwnerLitterWeek, ID: "7"}},
		{input: "cat/", wantErr: true},
		{input: "luna", wantErr: true},
		{input: "dog/rex", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseOwnerKey(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.input, got.String())
		})
	}
}

func TestObjectKey(t *testing.T) {
	key, err := ObjectKey("https://assets.example.com/images/abc123.jpg")
	require.NoError(t, err)
	require.Equal(t, "images/abc123.jpg", key)

	// Query strings are not part of the key.
	key, err = ObjectKey("https://assets.example.com/images/abc123.jpg?X-Sig=deadbeef&exp=99")
	require.NoError(t, err)
	require.Equal(t, "images/abc123.jpg", key)

	_, err = ObjectKey("https://assets.example.com/")
	require.Error(t, err)

	_, err = ObjectKey("://not-a-url")
	require.Error(t, err)
}

func TestAssetRefIsPrimary(t *testing.T) {
	require.True(t, AssetRef{Rank: PrimaryRank}.IsPrimary())
	require.False(t, AssetRef{Rank: 2}.IsPrimary())
	require.False(t, AssetRef{}.IsPrimary())
}

func TestNewInvalidationRequest(t *testing.T) {
	req := NewInvalidationRequest("/cats/luna", "/", "/cats", "/", "", "/cats/luna")
	require.Equal(t, []string{"/cats/luna", "/", "/cats"}, req.Paths())
	require.False(t, req.Empty())

	require.True(t, NewInvalidationRequest().Empty())
	require.True(t, NewInvalidationRequest("", "").Empty())
}

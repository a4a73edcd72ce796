package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		expectError bool
		validate    func(t *testing.T, entries []Entry)
	}{
		{
			name:    "entries sorted by package name",
			payload: `{"zeta/pkg":["1.0.0"],"alpha/pkg":["1.0.0"]}`,
			validate: func(t *testing.T, entries []Entry) {
				require.Len(t, entries, 2)
				assert.Equal(t, "alpha/pkg", entries[0].Name)
				assert.Equal(t, "zeta/pkg", entries[1].Name)
			},
		},
		{
			name:    "versions ordered oldest release first",
			payload: `{"user/pkg":["2.0.0","1.0.1","10.0.0","1.0.0"]}`,
			validate: func(t *testing.T, entries []Entry) {
				require.Len(t, entries, 1)
				assert.Equal(t, []string{"1.0.0", "1.0.1", "2.0.0", "10.0.0"}, entries[0].Versions)
			},
		},
		{
			name:    "duplicate versions deduplicated",
			payload: `{"user/pkg":["1.0.0","1.0.0","2.0.0"]}`,
			validate: func(t *testing.T, entries []Entry) {
				require.Len(t, entries, 1)
				assert.Equal(t, []string{"1.0.0", "2.0.0"}, entries[0].Versions)
			},
		},
		{
			name:    "non-semver tags sort after releases",
			payload: `{"user/pkg":["weird","1.0.0"]}`,
			validate: func(t *testing.T, entries []Entry) {
				require.Len(t, entries, 1)
				assert.Equal(t, []string{"1.0.0", "weird"}, entries[0].Versions)
			},
		},
		{
			name:    "malformed package names dropped",
			payload: `{"../escape":["1.0.0"],"user/pkg":["1.0.0"],"noslash":["1.0.0"]}`,
			validate: func(t *testing.T, entries []Entry) {
				require.Len(t, entries, 1)
				assert.Equal(t, "user/pkg", entries[0].Name)
			},
		},
		{
			name:        "invalid JSON is index-unavailable",
			payload:     `not json`,
			expectError: true,
		},
		{
			name:        "wrong shape is index-unavailable",
			payload:     `["user/pkg"]`,
			expectError: true,
		},
		{
			name:    "empty index",
			payload: `{}`,
			validate: func(t *testing.T, entries []Entry) {
				assert.Empty(t, entries)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Parse([]byte(tt.payload))
			if tt.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrIndexUnavailable)
				return
			}
			require.NoError(t, err)
			tt.validate(t, entries)
		})
	}
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"elm/core", true},
		{"the-sett/elm-aws-core", true},
		{"user/pkg.name", true},
		{"user/pkg_name", true},
		{"noslash", false},
		{"too/many/segments", false},
		{"../escape", false},
		{"user/..", false},
		{"-leading/pkg", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidName(tt.name))
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("reads override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "all-packages")
		require.NoError(t, os.WriteFile(path, []byte(`{"user/pkg":["1.0.0"]}`), 0o644))

		entries, err := Load(path)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "user/pkg", entries[0].Name)
	})

	t.Run("missing file is index-unavailable", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, ErrIndexUnavailable)
	})
}

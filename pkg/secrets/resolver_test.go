package secrets

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/gateway"
)

func testResolver(env map[string]string, files map[string]string) *Resolver {
	return &Resolver{
		getenv: func(name string) string { return env[name] },
		readFile: func(path string) ([]byte, error) {
			if data, ok := files[path]; ok {
				return []byte(data), nil
			}
			return nil, errors.New("no such file")
		},
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	r := testResolver(
		map[string]string{"API_TOKEN": "tok-123"},
		map[string]string{"/run/secret": "file-secret\n"},
	)

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr error
	}{
		{name: "env reference", ref: "env://API_TOKEN", want: "tok-123"},
		{name: "file reference trims whitespace", ref: "file:///run/secret", want: "file-secret"},
		{name: "unset env var", ref: "env://MISSING", wantErr: ErrCredentialNotFound},
		{name: "missing file", ref: "file:///nope", wantErr: ErrCredentialNotFound},
		{name: "vault not yet supported", ref: "vault://kv/token", wantErr: ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.Resolve(tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec gateway.AuthSpec
		want string
	}{
		{
			name: "raw api key",
			spec: gateway.AuthSpec{Method: gateway.AuthAPIKey, Format: gateway.FormatRaw},
			want: "s3cret",
		},
		{
			name: "bearer defaults to Bearer prefix",
			spec: gateway.AuthSpec{Method: gateway.AuthBearer},
			want: "Bearer s3cret",
		},
		{
			name: "explicit prefix",
			spec: gateway.AuthSpec{Method: gateway.AuthAPIKey, Format: gateway.FormatPrefix, Prefix: "Token "},
			want: "Token s3cret",
		},
		{
			name: "template",
			spec: gateway.AuthSpec{Method: gateway.AuthCustom, Format: gateway.FormatTemplate, Template: "key=%s;v=1"},
			want: "key=s3cret;v=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Render(&tt.spec, "s3cret"))
		})
	}
}

func TestRenderBasic(t *testing.T) {
	t.Parallel()
	spec := &gateway.AuthSpec{Method: gateway.AuthBasic}
	// base64("user:pass") == dXNlcjpwYXNz
	assert.Equal(t, "Basic dXNlcjpwYXNz", Render(spec, "user:pass"))
}

func TestApply(t *testing.T) {
	t.Parallel()

	r := testResolver(map[string]string{"KEY": "abc"}, nil)

	t.Run("header placement", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("POST", "http://backend/mcp", nil)
		spec := &gateway.AuthSpec{
			Method:        gateway.AuthAPIKey,
			Location:      gateway.AuthInHeader,
			Name:          "X-API-Key",
			CredentialRef: "env://KEY",
		}
		require.NoError(t, r.Apply(req, spec))
		assert.Equal(t, "abc", req.Header.Get("X-API-Key"))
	})

	t.Run("query placement", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("GET", "http://backend/mcp", nil)
		spec := &gateway.AuthSpec{
			Method:        gateway.AuthAPIKey,
			Location:      gateway.AuthInQuery,
			Name:          "api_key",
			CredentialRef: "env://KEY",
		}
		require.NoError(t, r.Apply(req, spec))
		assert.Equal(t, "abc", req.URL.Query().Get("api_key"))
	})

	t.Run("none is a no-op", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("POST", "http://backend/mcp", nil)
		require.NoError(t, r.Apply(req, &gateway.AuthSpec{Method: gateway.AuthNone}))
		assert.Empty(t, req.Header)
	})

	t.Run("header placement without name is invalid", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("POST", "http://backend/mcp", nil)
		spec := &gateway.AuthSpec{
			Method:   gateway.AuthAPIKey,
			Location: gateway.AuthInHeader,
			// Name intentionally missing.
			Credential: "abc",
		}
		assert.ErrorIs(t, r.Apply(req, spec), gateway.ErrInvalidServerConfig)
	})
}

func TestApplyRejectsBodyPlacement(t *testing.T) {
	t.Parallel()

	r := testResolver(nil, nil)
	req := httptest.NewRequest("POST", "http://backend/mcp", nil)
	spec := &gateway.AuthSpec{
		Method:     gateway.AuthAPIKey,
		Location:   gateway.AuthInBody,
		Name:       "token",
		Credential: "inline-secret",
	}

	// A body-placement spec must fail loudly, never send an uncredentialed
	// request.
	assert.ErrorIs(t, r.Apply(req, spec), gateway.ErrInvalidServerConfig)
	assert.Empty(t, req.Header)
}

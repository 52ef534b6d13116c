// Package secrets resolves credential references and renders them into
// outgoing backend requests according to a server's auth specification.
//
// Supported reference schemes are env:// (environment variable) and
// file:// (file contents, trimmed). Unknown schemes such as vault:// fail
// with ErrUnsupportedScheme so a future provider can slot in behind the
// same contract.
package secrets

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// Scheme prefixes for credential references.
const (
	envScheme  = "env://"
	fileScheme = "file://"
)

var (
	// ErrUnsupportedScheme indicates a credential reference with a scheme no
	// provider handles.
	ErrUnsupportedScheme = errors.New("unsupported credential scheme")

	// ErrCredentialNotFound indicates the reference resolved to nothing (unset
	// environment variable, unreadable file).
	ErrCredentialNotFound = errors.New("credential not found")
)

// Resolver turns credential references into secret strings and applies them
// to outgoing requests. The zero value is not usable; use NewResolver.
type Resolver struct {
	// getenv and readFile are swappable for tests.
	getenv   func(string) string
	readFile func(string) ([]byte, error)
}

// NewResolver creates a resolver backed by the process environment and
// filesystem.
func NewResolver() *Resolver {
	return &Resolver{
		getenv:   os.Getenv,
		readFile: os.ReadFile,
	}
}

// Resolve turns a scheme-prefixed reference into a secret string.
func (r *Resolver) Resolve(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, envScheme):
		name := strings.TrimPrefix(ref, envScheme)
		value := r.getenv(name)
		if value == "" {
			return "", fmt.Errorf("%w: environment variable %q is not set", ErrCredentialNotFound, name)
		}
		return value, nil

	case strings.HasPrefix(ref, fileScheme):
		path := strings.TrimPrefix(ref, fileScheme)
		data, err := r.readFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCredentialNotFound, err)
		}
		value := strings.TrimSpace(string(data))
		if value == "" {
			return "", fmt.Errorf("%w: credential file %q is empty", ErrCredentialNotFound, path)
		}
		return value, nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref)
	}
}

// ResolveSpec returns the secret for an auth spec: the resolved reference if
// one is set, otherwise the inline credential.
func (r *Resolver) ResolveSpec(spec *gateway.AuthSpec) (string, error) {
	if spec == nil || spec.Method == "" || spec.Method == gateway.AuthNone {
		return "", nil
	}
	if spec.CredentialRef != "" {
		return r.Resolve(spec.CredentialRef)
	}
	if spec.Credential == "" {
		return "", fmt.Errorf("%w: no credential or credential_ref configured", ErrCredentialNotFound)
	}
	return spec.Credential, nil
}

// Render formats the raw secret per the spec's format. Bearer defaults to the
// conventional "Bearer " prefix when no explicit format is given; basic
// expects a "user:password" credential and produces the RFC 7617 value.
func Render(spec *gateway.AuthSpec, secret string) string {
	if spec.Method == gateway.AuthBasic {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(secret))
	}

	switch spec.Format {
	case gateway.FormatPrefix:
		return spec.Prefix + secret
	case gateway.FormatTemplate:
		return fmt.Sprintf(spec.Template, secret)
	default:
		if spec.Method == gateway.AuthBearer {
			return "Bearer " + secret
		}
		return secret
	}
}

// Apply resolves the credential and places the rendered value on the request
// per the spec's location. Body placement fails validation before reaching
// here.
func (r *Resolver) Apply(req *http.Request, spec *gateway.AuthSpec) error {
	if spec == nil || spec.Method == "" || spec.Method == gateway.AuthNone {
		return nil
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	secret, err := r.ResolveSpec(spec)
	if err != nil {
		return err
	}
	rendered := Render(spec, secret)

	switch spec.Location {
	case gateway.AuthInQuery:
		q := req.URL.Query()
		q.Set(spec.Name, rendered)
		req.URL.RawQuery = q.Encode()
	default:
		name := spec.Name
		if name == "" {
			name = "Authorization"
		}
		req.Header.Set(name, rendered)
	}
	return nil
}


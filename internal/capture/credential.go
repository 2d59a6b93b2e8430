package capture

import (
	"context"
	"os"
	"strings"
)

// CredentialSource resolves the capture-provider credential. It is a separate step
// from the request so a missing key surfaces as a configuration error.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// StaticCredential is a credential taken from configuration.
type StaticCredential string

func (s StaticCredential) Credential(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrMissingCredential
	}
	return string(s), nil
}

// EnvCredential reads the credential from the named environment variable on every call.
type EnvCredential string

func (e EnvCredential) Credential(ctx context.Context) (string, error) {
	return StaticCredential(os.Getenv(string(e))).Credential(ctx)
}

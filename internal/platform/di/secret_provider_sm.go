// internal/platform/di/secret_provider_sm.go
package di

import (
	"context"
	"errors"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

var errSecretManagerNotConfigured = errors.New("di: secret manager client not configured")

// resolveDatabasePassword reads the database password from Secret Manager.
// name accepts either a full resource name
// (projects/<p>/secrets/<s>/versions/<v>) or one without the version
// suffix, in which case "latest" is assumed.
func resolveDatabasePassword(ctx context.Context, sm *secretmanager.Client, name string) (string, error) {
	if sm == nil {
		return "", errSecretManagerNotConfigured
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return "", errors.New("di: secret name is empty")
	}
	if !strings.Contains(n, "/versions/") {
		n = n + "/versions/latest"
	}

	resp, err := sm.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: n})
	if err != nil {
		return "", errors.New("di: AccessSecretVersion failed (" + n + "): " + err.Error())
	}
	if resp == nil || resp.Payload == nil {
		return "", errors.New("di: empty secret payload (" + n + ")")
	}
	return strings.TrimSpace(string(resp.Payload.Data)), nil
}

package auth

import (
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
)

// newEnvServicePrincipal builds a service-principal credential from
// AZURE_TENANT_ID / AZURE_CLIENT_ID / AZURE_CLIENT_SECRET, the three
// environment variables this strategy reads.
func newEnvServicePrincipal(opts Options) (Strategy, error) {
	tenantID := os.Getenv("AZURE_TENANT_ID")
	clientID := os.Getenv("AZURE_CLIENT_ID")
	clientSecret := os.Getenv("AZURE_CLIENT_SECRET")
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, &tdserrors.AuthError{Reason: "AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET must all be set"}
	}

	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, &tdserrors.AuthError{Reason: "env service principal credential", Cause: err}
	}
	return &credentialStrategy{
		name:     "env",
		cred:     cred,
		secretID: clientID + ":" + clientSecret,
		tenant:   tenantID,
	}, nil
}

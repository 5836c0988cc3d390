// Package auth implements the federated authentication strategies the
// connection layer uses to obtain an Azure AD access token for LOGIN7's
// FEDAUTH path, plus validation of user-supplied tokens and a process-wide
// token cache shared across connections and pools.
package auth

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
	"github.com/ha1tch/mssqlext/pkg/log"
)

// sqlDatabaseScope is the resource scope SQL Server/Azure SQL/Fabric expect
// in the FEDAUTH access token's aud claim.
const sqlDatabaseScope = "https://database.windows.net/.default"

// Strategy obtains an Azure AD access token for the SQL Database resource.
// It satisfies pkg/conn.TokenCredential.
type Strategy interface {
	// Token returns a bearer access token and its expiry.
	Token(ctx context.Context) (accessToken string, expiresAt time.Time, err error)
	// Name identifies the strategy for logging.
	Name() string
}

// Options configures which strategy to build and how.
type Options struct {
	Mode         string // "sql", "service_principal", "azure_cli", "env", "device_code", "access_token"
	TenantID     string
	ClientID     string
	ClientSecret string
	AccessToken  string // pre-supplied token for AuthMode "access_token"

	// DeviceCodePrompt receives the user_code/verification_uri instructions.
	// If nil, azidentity's default stderr prompt is used.
	DeviceCodePrompt func(message string)
}

// cacheKey identifies a cached token: the secret backing it plus an
// optional tenant override.
type cacheKey struct {
	secretID string
	tenant   string
}

// New builds the Strategy named by opts.Mode. "sql" returns nil, nil since
// SQL Server password authentication carries no federated token.
func New(opts Options) (Strategy, error) {
	switch opts.Mode {
	case "", "sql":
		return nil, nil
	case "service_principal":
		return newServicePrincipal(opts)
	case "azure_cli":
		return newAzureCLI(opts)
	case "env":
		return newEnvServicePrincipal(opts)
	case "device_code":
		return newDeviceCode(opts)
	case "access_token":
		return newStaticToken(opts)
	default:
		return nil, tdserrors.NewProtocolError("unknown auth mode %q", opts.Mode)
	}
}

// credentialStrategy adapts an azcore.TokenCredential into a Strategy,
// routing every GetToken call through the process-wide cache.
type credentialStrategy struct {
	name     string
	cred     azcore.TokenCredential
	secretID string
	tenant   string
}

func (s *credentialStrategy) Name() string { return s.name }

func (s *credentialStrategy) Token(ctx context.Context) (string, time.Time, error) {
	key := cacheKey{secretID: s.secretID, tenant: s.tenant}
	if tok, exp, ok := defaultCache.get(key); ok {
		return tok, exp, nil
	}

	log.Default().Auth().Debug("acquiring token", "strategy", s.name)
	res, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{sqlDatabaseScope}})
	if err != nil {
		return "", time.Time{}, &tdserrors.AuthError{Reason: "token acquisition failed (" + s.name + ")", Cause: err}
	}

	defaultCache.put(key, res.Token, res.ExpiresOn)
	return res.Token, res.ExpiresOn, nil
}

func newServicePrincipal(opts Options) (Strategy, error) {
	cred, err := azidentity.NewClientSecretCredential(opts.TenantID, opts.ClientID, opts.ClientSecret, nil)
	if err != nil {
		return nil, &tdserrors.AuthError{Reason: "service principal credential", Cause: err}
	}
	return &credentialStrategy{
		name:     "service_principal",
		cred:     cred,
		secretID: opts.ClientID + ":" + opts.ClientSecret,
		tenant:   opts.TenantID,
	}, nil
}

func newAzureCLI(opts Options) (Strategy, error) {
	cliOpts := &azidentity.AzureCLICredentialOptions{}
	if opts.TenantID != "" {
		cliOpts.TenantID = opts.TenantID
	}
	cred, err := azidentity.NewAzureCLICredential(cliOpts)
	if err != nil {
		return nil, &tdserrors.AuthError{Reason: "azure cli credential", Cause: err}
	}
	return &credentialStrategy{
		name:     "azure_cli",
		cred:     cred,
		secretID: "azure_cli",
		tenant:   opts.TenantID,
	}, nil
}

func newDeviceCode(opts Options) (Strategy, error) {
	dcOpts := &azidentity.DeviceCodeCredentialOptions{}
	if opts.TenantID != "" {
		dcOpts.TenantID = opts.TenantID
	}
	if opts.ClientID != "" {
		dcOpts.ClientID = opts.ClientID
	}
	if opts.DeviceCodePrompt != nil {
		dcOpts.UserPrompt = func(ctx context.Context, msg azidentity.DeviceCodeMessage) error {
			opts.DeviceCodePrompt(msg.Message)
			return nil
		}
	}
	cred, err := azidentity.NewDeviceCodeCredential(dcOpts)
	if err != nil {
		return nil, &tdserrors.AuthError{Reason: "device code credential", Cause: err}
	}
	return &deviceCodeStrategy{
		credentialStrategy: credentialStrategy{
			name:     "device_code",
			cred:     cred,
			secretID: "device_code:" + opts.ClientID,
			tenant:   opts.TenantID,
		},
	}, nil
}

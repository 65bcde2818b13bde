package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const oidcDefaultAudience = "api://AzureADTokenExchange"

var _ azcore.TokenCredential = &OidcCredential{}

// OidcCredential authenticates with a federated token, which is either given directly, read from a file,
// or requested from the OIDC token endpoint of the CI system (e.g. GitHub Actions).
type OidcCredential struct {
	assertion assertionSource
	cred      *azidentity.ClientAssertionCredential
}

type OidcCredentialOptions struct {
	azcore.ClientOptions
	TenantID      string
	ClientID      string
	RequestToken  string
	RequestUrl    string
	Token         string
	TokenFilePath string
}

type assertionSource struct {
	token         string
	tokenFilePath string
	requestToken  string
	requestUrl    string
	httpClient    *http.Client
}

func NewOidcCredential(options *OidcCredentialOptions) (*OidcCredential, error) {
	src := assertionSource{
		token:         options.Token,
		tokenFilePath: options.TokenFilePath,
		requestToken:  options.RequestToken,
		requestUrl:    options.RequestUrl,
		httpClient:    http.DefaultClient,
	}
	if src.token == "" && src.tokenFilePath == "" && src.requestUrl == "" {
		return nil, fmt.Errorf("none of the OIDC token, token file path or token request URL is specified")
	}

	cred, err := azidentity.NewClientAssertionCredential(options.TenantID, options.ClientID, src.get, &azidentity.ClientAssertionCredentialOptions{ClientOptions: options.ClientOptions})
	if err != nil {
		return nil, err
	}
	return &OidcCredential{assertion: src, cred: cred}, nil
}

func (w *OidcCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return w.cred.GetToken(ctx, opts)
}

func (s assertionSource) get(ctx context.Context) (string, error) {
	switch {
	case s.token != "":
		return s.token, nil
	case s.tokenFilePath != "":
		b, err := os.ReadFile(s.tokenFilePath)
		if err != nil {
			return "", fmt.Errorf("reading token file: %v", err)
		}
		return strings.TrimSpace(string(b)), nil
	default:
		return s.request(ctx)
	}
}

func (s assertionSource) request(ctx context.Context) (string, error) {
	u, err := url.Parse(s.requestUrl)
	if err != nil {
		return "", fmt.Errorf("getAssertion: cannot parse URL: %v", err)
	}
	query := u.Query()
	if query.Get("audience") == "" {
		query.Set("audience", oidcDefaultAudience)
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("getAssertion: failed to build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.requestToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("getAssertion: cannot request token: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("getAssertion: cannot parse response: %v", err)
	}
	if c := resp.StatusCode; c < 200 || c > 299 {
		return "", fmt.Errorf("getAssertion: received HTTP status %d with response: %s", resp.StatusCode, body)
	}

	var tokenRes struct {
		Value *string `json:"value"`
	}
	if err := json.Unmarshal(body, &tokenRes); err != nil {
		return "", fmt.Errorf("getAssertion: cannot unmarshal response: %v", err)
	}
	if tokenRes.Value == nil {
		return "", fmt.Errorf("getAssertion: nil JWT assertion received from OIDC provider")
	}
	return *tokenRes.Value, nil
}

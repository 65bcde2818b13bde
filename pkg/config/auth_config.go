package config

// AuthConfig specifies how the tool authenticates against Azure.
type AuthConfig struct {
	Environment        string
	TenantID           string
	AuxiliaryTenantIDs []string

	ClientID                  string
	ClientSecret              string
	ClientCertificateEncoded  string
	ClientCertificatePassword string

	OIDCTokenRequestToken string
	OIDCTokenRequestURL   string
	OIDCAssertionToken    string
	OIDCTokenFilePath     string

	UseEnvironment     bool
	UseAzureCLI        bool
	UseManagedIdentity bool
	UseOIDC            bool
}

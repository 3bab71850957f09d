package credentials

// Credentials represents the stored credentials in credentials.toml.
type Credentials struct {
	Version int               `toml:"version"`
	Gateway GatewayCredential `toml:"gateway"`
}

// GatewayCredential holds the API key for the gateway.
type GatewayCredential struct {
	APIKey string `toml:"api_key"`
}

package clients

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Public Everscale GraphQL endpoints per network
var (
	DevnetEndpoints = []string{
		"eri01.net.everos.dev",
		"rbx01.net.everos.dev",
		"gra01.net.everos.dev",
	}
	MainnetEndpoints = []string{
		"eri01.main.everos.dev",
		"gra01.main.everos.dev",
		"gra02.main.everos.dev",
		"lim01.main.everos.dev",
		"rbx01.main.everos.dev",
	}
	LocalEndpoints = []string{"localhost"}
)

// EndpointsForNetwork maps a network name to its endpoints; unknown names mean a local node
func EndpointsForNetwork(network string) []string {
	switch strings.ToLower(network) {
	case "testnet", "devnet":
		return DevnetEndpoints
	case "mainnet":
		return MainnetEndpoints
	default:
		return LocalEndpoints
	}
}

// graphqlURLs returns the HTTP and websocket GraphQL URLs of an endpoint
func graphqlURLs(endpoint string) (httpURL, wsURL string) {
	endpoint = strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	switch {
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
	case endpoint == "localhost" || strings.HasPrefix(endpoint, "localhost:") || strings.HasPrefix(endpoint, "127.0.0.1"):
		endpoint = "http://" + endpoint
	default:
		endpoint = "https://" + endpoint
	}
	if !strings.HasSuffix(endpoint, "/graphql") {
		endpoint += "/graphql"
	}
	httpURL = endpoint
	wsURL = "ws" + strings.TrimPrefix(endpoint, "http")
	return httpURL, wsURL
}

// LoadKeyPair reads a {"public": hex, "secret": hex} key file
func LoadKeyPair(path string) (KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyPair{}, fmt.Errorf("read keyfile: %w", err)
	}
	var keys KeyPair
	if err := json.Unmarshal(data, &keys); err != nil {
		return KeyPair{}, fmt.Errorf("parse keyfile %s: %w", path, err)
	}
	for name, v := range map[string]string{"public": keys.Public, "secret": keys.Secret} {
		b, err := hex.DecodeString(v)
		if err != nil || len(b) != 32 {
			return KeyPair{}, fmt.Errorf("keyfile %s: %s key must be 32 bytes of hex", path, name)
		}
	}
	return keys, nil
}

package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// serverTokenFile is the persisted auth token's filename under the base path.
const serverTokenFile = "server-token"

// ResolveAuthToken decides the server's auth requirement for the bind address.
//
// An explicit token always wins. Loopback binds require no token. Any other
// bind loads the persisted server-token file, generating and writing a fresh
// ASCII UUID on first use. Returns "" when no auth is required.
func ResolveAuthToken(basePath, bindAddr, explicitToken string) (string, error) {
	if explicitToken != "" {
		return explicitToken, nil
	}

	host, _, err := net.SplitHostPort(bindAddr)
	if err != nil {
		host = bindAddr
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return "", nil
	}
	if host == "localhost" {
		return "", nil
	}

	return loadOrGenerateServerToken(basePath)
}

func loadOrGenerateServerToken(basePath string) (string, error) {
	tokenPath := filepath.Join(basePath, serverTokenFile)

	data, err := os.ReadFile(tokenPath)
	if err == nil {
		token := strings.TrimSpace(string(data))
		if token != "" {
			return token, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read server token: %w", err)
	}

	token := uuid.NewString()
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create base directory: %w", err)
	}
	if err := os.WriteFile(tokenPath, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write server token: %w", err)
	}
	return token, nil
}

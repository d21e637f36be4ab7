// ABOUTME: gRPC client connection setup for fleet-agent
// ABOUTME: Chooses TLS or plaintext credentials and keepalive from the agent config

package agent

import (
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Keepalive pings stay above the server's 5s enforcement minimum.
var clientKeepalive = keepalive.ClientParameters{
	Time:    30 * time.Second,
	Timeout: 10 * time.Second,
}

// Dial creates the client connection to cfg.ServerAddr. The connection is
// established lazily by the first RPC.
func Dial(cfg *Config) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if cfg.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	conn, err := grpc.NewClient(cfg.ServerAddr,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(clientKeepalive),
	)
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", cfg.ServerAddr, err)
	}
	return conn, nil
}

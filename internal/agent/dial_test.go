// ABOUTME: Tests for agent client connection setup
// ABOUTME: Connections are lazy so no server is needed

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDial(t *testing.T) {
	for _, useTLS := range []bool{false, true} {
		conn, err := Dial(&Config{ServerAddr: "fleet.example.internal:50051", TLS: useTLS})
		require.NoError(t, err)
		assert.Equal(t, "fleet.example.internal:50051", conn.Target())
		require.NoError(t, conn.Close())
	}
}

// Package testnats starts a NATS server in a container and collects what is
// published to it.
package testnats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const image = "nats:2.10-alpine"

type Server struct {
	URL string
}

// Start runs NATS for the duration of the test. Skipped under -short since
// it needs a Docker daemon.
func Start(t *testing.T) *Server {
	t.Helper()
	if testing.Short() {
		t.Skip("nats container tests are skipped in -short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForListeningPort("4222/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate nats: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return &Server{URL: fmt.Sprintf("nats://%s:%s", host, port.Port())}
}

// Collect subscribes to subject and returns a function that waits for the
// next message, failing the test after timeout.
func (s *Server) Collect(t *testing.T, subject string) func(timeout time.Duration) *nats.Msg {
	t.Helper()

	conn, err := nats.Connect(s.URL)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	msgs := make(chan *nats.Msg, 64)
	sub, err := conn.ChanSubscribe(subject, msgs)
	require.NoError(t, err)
	require.NoError(t, conn.Flush())
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	return func(timeout time.Duration) *nats.Msg {
		t.Helper()
		select {
		case msg := <-msgs:
			return msg
		case <-time.After(timeout):
			t.Fatalf("no message on %s within %s", subject, timeout)
			return nil
		}
	}
}

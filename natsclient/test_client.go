package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testImage          = "nats:2.10.22-alpine"
	testConnectTimeout = 5 * time.Second
	testStartupTimeout = 30 * time.Second
)

// TestClient is a connected Client backed by a NATS server container.
type TestClient struct {
	Client *Client
	URL    string

	container testcontainers.Container
}

// NewSharedTestClient starts a JetStream enabled NATS container and connects
// a Client to it. It is meant for TestMain; callers must Terminate it.
func NewSharedTestClient() (*TestClient, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--js", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp"),
			).WithStartupTimeout(testStartupTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start nats container: %w", err)
	}

	tc := &TestClient{container: container}
	if err := tc.connect(ctx); err != nil {
		_ = tc.Terminate()
		return nil, err
	}
	return tc, nil
}

func (tc *TestClient) connect(ctx context.Context) error {
	endpoint, err := tc.container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		return fmt.Errorf("resolve nats endpoint: %w", err)
	}
	tc.URL = endpoint

	client, err := NewClient(endpoint, WithTimeout(testConnectTimeout), WithMaxReconnects(0))
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, testConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect to %s: %w", endpoint, err)
	}
	tc.Client = client
	return nil
}

// NewTestClient starts a container for a single test and terminates it when
// the test ends.
func NewTestClient(t testing.TB) *TestClient {
	t.Helper()

	tc, err := NewSharedTestClient()
	if err != nil {
		t.Fatalf("nats test client: %v", err)
	}
	t.Cleanup(func() { _ = tc.Terminate() })
	return tc
}

// Terminate closes the client and removes the container.
func (tc *TestClient) Terminate() error {
	if tc.Client != nil {
		_ = tc.Client.Close(context.Background())
		tc.Client = nil
	}
	if tc.container == nil {
		return nil
	}
	err := tc.container.Terminate(context.Background())
	tc.container = nil
	return err
}

// CreateKVBucket creates a bucket with default settings.
func (tc *TestClient) CreateKVBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	return tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name})
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/batimat/api/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

// ErrProjectRequired is returned when no project id is configured or discoverable.
var ErrProjectRequired = errors.New("firestore: project id is required")

// NewClient opens a Firestore client for cfg. An emulator host, from cfg or
// FIRESTORE_EMULATOR_HOST, switches the client to an unauthenticated plaintext connection.
func NewClient(ctx context.Context, cfg config.FirestoreConfig, extra ...option.ClientOption) (*firestore.Client, error) {
	projectID := resolveProjectID(cfg)
	if projectID == "" {
		return nil, ErrProjectRequired
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	opts := append(clientOptions(emulatorHost(cfg)), extra...)
	client, err := firestore.NewClient(dialCtx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}

func resolveProjectID(cfg config.FirestoreConfig) string {
	if id := strings.TrimSpace(cfg.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(os.Getenv(envGoogleProjectID))
}

func emulatorHost(cfg config.FirestoreConfig) string {
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}

func clientOptions(emulator string) []option.ClientOption {
	if emulator == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithoutAuthentication(),
		option.WithEndpoint(emulator),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

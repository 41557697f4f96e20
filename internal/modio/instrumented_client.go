package modio

import (
	"context"

	"github.com/italolelis/mod_downloader/internal/download"
	"github.com/italolelis/mod_downloader/internal/telemetry"
)

// API is the part of the mod.io API the service uses.
type API interface {
	download.FileResolver
	GetModLogoURL(ctx context.Context, modID int64) (string, error)
}

// InstrumentedClient wraps an API with telemetry.
type InstrumentedClient struct {
	client    API
	telemetry *telemetry.Telemetry
}

// NewInstrumentedClient creates a new instrumented client.
func NewInstrumentedClient(client API, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{
		client:    client,
		telemetry: tel,
	}
}

// GetFileDescriptor resolves a mod file with telemetry.
func (c *InstrumentedClient) GetFileDescriptor(ctx context.Context, modID, fileID int64) (*download.FileDescriptor, error) {
	var result *download.FileDescriptor

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, "modio", "get_file_descriptor", func(ctx context.Context) error {
		result, err = c.client.GetFileDescriptor(ctx, modID, fileID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (c *InstrumentedClient) GetModLogoURL(ctx context.Context, modID int64) (string, error) {
	var logoURL string

	err := c.telemetry.InstrumentClientOperation(ctx, "modio", "get_mod_logo_url", func(ctx context.Context) error {
		var err error

		logoURL, err = c.client.GetModLogoURL(ctx, modID)

		return err
	})
	if err != nil {
		return "", err
	}

	return logoURL, nil
}

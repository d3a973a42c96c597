package mongo

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Options configure the pairing store connection. Zero values fall back to
// the MONGODB_URI / MONGODB_DATABASE environment, then to local-dev
// defaults.
type Options struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SelectTimeout  time.Duration `yaml:"select_timeout"`
	MaxPoolSize    uint64        `yaml:"max_pool_size"`
}

func (o Options) withDefaults() Options {
	if o.URI == "" {
		o.URI = os.Getenv("MONGODB_URI")
	}
	if o.URI == "" {
		o.URI = "mongodb://localhost:27017"
	}
	if o.Database == "" {
		o.Database = os.Getenv("MONGODB_DATABASE")
	}
	if o.Database == "" {
		o.Database = "voicedesk"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.SelectTimeout <= 0 {
		o.SelectTimeout = 5 * time.Second
	}
	if o.MaxPoolSize == 0 {
		o.MaxPoolSize = 10
	}
	return o
}

// Client owns the driver connection and the database handle the pairing
// repository hangs off.
type Client struct {
	*mongo.Client
	Database *mongo.Database
	logger   *zap.Logger
}

// NewClient connects to the pairing store and verifies the connection with
// a ping before returning.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	opts = opts.withDefaults()

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetMaxPoolSize(opts.MaxPoolSize).
		SetMinPoolSize(1).
		SetServerSelectionTimeout(opts.SelectTimeout).
		SetConnectTimeout(opts.ConnectTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pairing store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping pairing store: %w", err)
	}

	logger.Info("Pairing store connected", zap.String("database", opts.Database))

	return &Client{
		Client:   client,
		Database: client.Database(opts.Database),
		logger:   logger,
	}, nil
}

// Close disconnects from the store.
func (c *Client) Close(ctx context.Context) error {
	if err := c.Client.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect pairing store", zap.Error(err))
		return err
	}
	c.logger.Info("Pairing store disconnected")
	return nil
}

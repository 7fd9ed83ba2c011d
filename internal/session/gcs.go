package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/networth-sync/internal/logger"
)

// GCSStore keeps the session as a JSON object in Google Cloud Storage, for
// runs on hosts without a persistent disk. It assumes Application Default
// Credentials are configured.
type GCSStore struct {
	client *storage.Client
	uri    string
	bucket string
	object string
}

// NewGCSStore creates a store for a URI of the form gs://bucket/path/session.json.
func NewGCSStore(ctx context.Context, uri string) (*GCSStore, error) {
	bucket, object, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: creating storage client: %w", err)
	}

	return &GCSStore{
		client: client,
		uri:    uri,
		bucket: bucket,
		object: object,
	}, nil
}

// Location returns the gs:// URI.
func (g *GCSStore) Location() string { return g.uri }

// Load reads the session object. Any failure yields an empty session.
func (g *GCSStore) Load(ctx context.Context) Session {
	log := logger.FromContext(ctx)

	r, err := g.handle().NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			log.Info().Str("session_uri", g.uri).Msg("No saved session, starting fresh")
		} else {
			log.Warn().Err(&IOError{Op: "read", Location: g.uri, Err: err}).Msg("Unreadable session object, starting fresh")
		}
		return Session{}
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		log.Warn().Err(&IOError{Op: "read", Location: g.uri, Err: err}).Msg("Unreadable session object, starting fresh")
		return Session{}
	}

	s, err := decode(data)
	if err != nil {
		log.Warn().Err(&IOError{Op: "decode", Location: g.uri, Err: err}).Msg("Malformed session object, starting fresh")
		return Session{}
	}
	return s
}

// Save uploads the session object.
func (g *GCSStore) Save(ctx context.Context, s Session) error {
	data, err := encode(s)
	if err != nil {
		return &IOError{Op: "encode", Location: g.uri, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	w := g.handle().NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return &IOError{Op: "write", Location: g.uri, Err: err}
	}
	// Close finalizes the upload
	if err := w.Close(); err != nil {
		return &IOError{Op: "write", Location: g.uri, Err: err}
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("session_uri", g.uri).Int("tokens", len(s)).Msg("Saved session")
	return nil
}

// Clear deletes the session object. A missing object is not an error.
func (g *GCSStore) Clear(ctx context.Context) error {
	if err := g.handle().Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return &IOError{Op: "clear", Location: g.uri, Err: err}
	}
	return nil
}

// Close releases the storage client.
func (g *GCSStore) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GCSStore) handle() *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.object)
}

// parseGCSURI splits gs://bucket/object into its parts.
func parseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}

	return parts[0], parts[1], nil
}

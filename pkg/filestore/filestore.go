package filestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/igolaizola/musigen/pkg/filestore/local"
	"github.com/igolaizola/musigen/pkg/filestore/s3"
	"go.uber.org/zap"
)

type fs interface {
	Upload(ctx context.Context, path, name string) error
	Download(ctx context.Context, path, name string) error
	URL(ctx context.Context, name string) (string, error)
}

// Store keeps mirrored audio files.
type Store struct {
	fs fs
}

// SetMP3 uploads the mp3 at path and returns the URL it can be fetched from.
func (s *Store) SetMP3(ctx context.Context, path, id string) (string, error) {
	name := MP3(id)
	if err := s.fs.Upload(ctx, path, name); err != nil {
		return "", err
	}
	return s.fs.URL(ctx, name)
}

func (s *Store) GetMP3(ctx context.Context, path, id string) error {
	return s.fs.Download(ctx, path, MP3(id))
}

// New creates a file store.
//
//	local: conn is the root folder, publicURL prefixes served files
//	s3:    conn is key:secret@bucket.region, optionally followed by
//	       @endpoint for S3 compatible services
func New(typ, conn, publicURL string, logger *zap.Logger) (*Store, error) {
	var fs fs
	switch typ {
	case "s3":
		split := strings.SplitN(conn, "@", 3)
		if len(split) < 2 {
			return nil, fmt.Errorf("filestore: invalid s3 connection string %q", conn)
		}
		auth := strings.Split(split[0], ":")
		if len(auth) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 auth string %q", conn)
		}
		key := auth[0]
		secret := auth[1]
		loc := strings.Split(split[1], ".")
		if len(loc) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 location string %q", conn)
		}
		bucket := loc[0]
		region := loc[1]
		var endpoint string
		if len(split) == 3 {
			endpoint = split[2]
		}
		candidate, err := s3.New(key, secret, region, bucket, endpoint, logger)
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	case "local":
		candidate, err := local.New(conn, publicURL)
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	default:
		return nil, fmt.Errorf("filestore: unknown file storage type %q", typ)
	}
	return &Store{fs: fs}, nil
}

func MP3(id string) string {
	return id + ".mp3"
}

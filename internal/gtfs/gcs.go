package gtfs

import (
	"context"
	"io"
	"io/fs"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// GCSSource reads tables stored as objects under a bucket prefix.
type GCSSource struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSource opens a client for a gs://bucket/prefix location. Credentials
// come from the environment (ADC).
func NewGCSSource(ctx context.Context, uri string) (*GCSSource, error) {
	bucket, prefix, err := ParseGSURI(uri)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "storage client")
	}
	return &GCSSource{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	obj := s.client.Bucket(s.bucket).Object(path.Join(s.prefix, name))
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Wrapf(fs.ErrNotExist, "gs://%s/%s", s.bucket, obj.ObjectName())
		}
		return nil, err
	}
	return r, nil
}

func (s *GCSSource) String() string {
	return "gs://" + path.Join(s.bucket, s.prefix)
}

func (s *GCSSource) Close() error {
	return s.client.Close()
}

// ParseGSURI splits gs://bucket/some/prefix into its bucket and prefix.
func ParseGSURI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", errors.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errors.Errorf("missing bucket in %q", uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

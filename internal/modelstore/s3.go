package modelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"equipguard/internal/model"
)

const (
	// currentKey names the object that points at the live generation.
	currentKey = "CURRENT"
	// manifestKey lists the artifact names of one generation.
	manifestKey = "MANIFEST"
)

type s3API interface {
	PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
	GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

// s3Store writes each artifact set under a fresh generation prefix and
// flips CURRENT last, so readers only ever see complete sets.
type s3Store struct {
	client s3API
	bucket string
	prefix string

	mu         sync.Mutex
	generation string
}

func NewS3(bucket, prefix, region string) (Store, error) {
	if bucket == "" {
		return nil, errors.New("s3 model store requires a bucket")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return newS3Store(s3.New(sess), bucket, prefix), nil
}

func newS3Store(client s3API, bucket, prefix string) *s3Store {
	return &s3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *s3Store) key(parts ...string) string {
	return path.Join(append([]string{s.prefix}, parts...)...)
}

func (s *s3Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *s3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("%w: s3://%s/%s", model.ErrArtifactNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *s3Store) current(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != "" {
		return s.generation, nil
	}
	data, err := s.get(ctx, s.key(currentKey))
	if err != nil {
		return "", err
	}
	s.generation = strings.TrimSpace(string(data))
	return s.generation, nil
}

// Save publishes a new generation holding name plus every artifact listed
// in the live generation's manifest.
func (s *s3Store) Save(ctx context.Context, name string, data []byte) error {
	merged := map[string][]byte{}
	gen, err := s.current(ctx)
	switch {
	case errors.Is(err, model.ErrArtifactNotFound):
	case err != nil:
		return err
	default:
		manifest, err := s.get(ctx, s.key(gen, manifestKey))
		if err != nil {
			return fmt.Errorf("read manifest of %s: %w", gen, err)
		}
		for _, other := range strings.Fields(string(manifest)) {
			if other == name {
				continue
			}
			b, err := s.get(ctx, s.key(gen, other+".json"))
			if err != nil {
				return err
			}
			merged[other] = b
		}
	}
	merged[name] = data
	return s.SaveAll(ctx, merged)
}

func (s *s3Store) SaveAll(ctx context.Context, artifacts map[string][]byte) error {
	gen := newGeneration()
	names := make([]string, 0, len(artifacts))
	for name, data := range artifacts {
		if err := s.put(ctx, s.key(gen, name+".json"), data); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if err := s.put(ctx, s.key(gen, manifestKey), []byte(strings.Join(names, "\n"))); err != nil {
		return err
	}
	if err := s.put(ctx, s.key(currentKey), []byte(gen)); err != nil {
		return err
	}
	s.mu.Lock()
	s.generation = gen
	s.mu.Unlock()
	return nil
}

func (s *s3Store) Load(ctx context.Context, name string) ([]byte, error) {
	gen, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, s.key(gen, name+".json"))
}

func (s *s3Store) Close() error { return nil }

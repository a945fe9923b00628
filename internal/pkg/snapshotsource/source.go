// Package snapshotsource loads catalog documents from an S3 compatible
// object store. Each tenant keeps one object per version under
// <prefix><tenant>/<version>.json.
package snapshotsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
)

// ObjectAPI is the part of the S3 client the source uses
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// maxVersionProbes bounds how many taken keys Append steps over.
const maxVersionProbes = 8

var ErrVersionTaken = errors.New("no free catalog version")

// Source implements catalog.SnapshotSource on top of S3
type Source struct {
	api    ObjectAPI
	config *Config

	mu      sync.Mutex
	appends map[string]*sync.Mutex
}

// NewClient creates an S3 client for cfg and wraps it in a Source
func NewClient(ctx context.Context, cfg *Config) (*Source, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}
	log.Infof("[SnapshotSource] Reading catalogs from bucket %s", cfg.BucketName)
	return New(client, cfg), nil
}

// New wraps an existing object API
func New(api ObjectAPI, cfg *Config) *Source {
	return &Source{api: api, config: cfg, appends: make(map[string]*sync.Mutex)}
}

type object struct {
	key     string
	version int64
}

func (s *Source) list(ctx context.Context, tenant string) ([]object, error) {
	prefix := s.config.TenantPrefix(tenant)
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.BucketName),
		Prefix: aws.String(prefix),
	})

	var out []object
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			version, ok := parseVersion(key)
			if !ok {
				log.Warnf("[SnapshotSource] Skipping unexpected object %s", key)
				continue
			}
			out = append(out, object{key: key, version: version})
		}
	}
	return out, nil
}

// LoadSnapshots implements catalog.SnapshotSource
func (s *Source) LoadSnapshots(ctx context.Context, tenant string) ([]*catalog.Snapshot, error) {
	objects, err := s.list(ctx, tenant)
	if err != nil {
		return nil, err
	}

	snapshots := make([]*catalog.Snapshot, 0, len(objects))
	for _, o := range objects {
		res, err := s.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.BucketName),
			Key:    aws.String(o.key),
		})
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", o.key, err)
		}
		data, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", o.key, err)
		}
		snap, err := catalog.DecodeSnapshot(tenant, o.version, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o.key, err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// Append validates a document and uploads it as the tenant's next version.
// Uploads of one tenant are serialized within the process and a key that
// already exists is never overwritten. Two processes can still race between
// the existence check and the write; S3 offers no conditional put here.
func (s *Source) Append(ctx context.Context, tenant string, document []byte) (*catalog.Snapshot, error) {
	if _, err := catalog.DecodeSnapshot(tenant, 0, document); err != nil {
		return nil, err
	}

	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	objects, err := s.list(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var latest int64
	for _, o := range objects {
		if o.version > latest {
			latest = o.version
		}
	}

	version, err := s.freeVersion(ctx, tenant, latest+1)
	if err != nil {
		return nil, err
	}
	snap, err := catalog.DecodeSnapshot(tenant, version, document)
	if err != nil {
		return nil, err
	}
	key := s.objectKey(tenant, snap.Version)
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(document),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}
	log.Infof("[SnapshotSource] Uploaded %s", key)
	return snap, nil
}

func (s *Source) tenantLock(tenant string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.appends[tenant]
	if !ok {
		l = &sync.Mutex{}
		s.appends[tenant] = l
	}
	return l
}

// freeVersion returns the first version from next on whose key does not
// exist yet. A listing can lag behind a write from another process.
func (s *Source) freeVersion(ctx context.Context, tenant string, next int64) (int64, error) {
	for v := next; v < next+maxVersionProbes; v++ {
		key := s.objectKey(tenant, v)
		_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.config.BucketName),
			Key:    aws.String(key),
		})
		var notFound *types.NotFound
		switch {
		case errors.As(err, &notFound):
			return v, nil
		case err != nil:
			return 0, fmt.Errorf("head %s: %w", key, err)
		}
		log.Warnf("[SnapshotSource] %s already exists, trying next version", key)
	}
	return 0, fmt.Errorf("%w for tenant %s after version %d", ErrVersionTaken, tenant, next-1)
}

func (s *Source) objectKey(tenant string, version int64) string {
	return fmt.Sprintf("%s%06d.json", s.config.TenantPrefix(tenant), version)
}

func parseVersion(key string) (int64, bool) {
	name := path.Base(key)
	if !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

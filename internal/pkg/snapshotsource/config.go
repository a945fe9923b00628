package snapshotsource

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/env"
)

// Config holds the object store location of catalog documents
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
}

// LoadConfig loads the S3 configuration from CATALOG_S3_* variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("CATALOG_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("CATALOG_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("CATALOG_S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("CATALOG_S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("CATALOG_S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("CATALOG_S3_PREFIX", "catalogs/"),
	}

	if config.AccessKeyID == "" {
		return nil, errors.New("CATALOG_S3_ACCESS_KEY_ID is required for the s3 catalog source")
	}
	if config.SecretAccessKey == "" {
		return nil, errors.New("CATALOG_S3_SECRET_ACCESS_KEY is required for the s3 catalog source")
	}
	if config.BucketName == "" {
		return nil, errors.New("CATALOG_S3_BUCKET_NAME is required for the s3 catalog source")
	}
	return config, nil
}

// TenantPrefix is the key prefix holding a tenant's documents.
// Format: <prefix><tenant>/
func (c *Config) TenantPrefix(tenant string) string {
	p := c.Prefix
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p + tenant + "/"
}

// Package s3store adapts ports.ObjectStorage to AWS S3, the transport
// ArchiveIngestor (C5) downloads log archives from.
//
// Grounded on the teacher's go.mod aws-sdk-go-v2 dependency set
// (config/credentials/service/s3), wired here since the teacher's own code
// never exercised it.
package s3store

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/paperwatch/traceline/internal/domain"
)

// Client adapts ports.ObjectStorage to S3.
type Client struct {
	s3 *s3.Client
}

// New builds a Client for region, optionally using static credentials
// (accessKeyID/secretAccessKey); empty values fall back to the default AWS
// credential chain.
func New(ctx context.Context, region, accessKeyID, secretAccessKey string) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, domain.E("s3store.New", domain.KindTransient, err)
	}
	return &Client{s3: s3.NewFromConfig(cfg)}, nil
}

// Download satisfies ports.ObjectStorage, mapping 403/404 to the taxonomy
// in spec.md §6.
func (c *Client) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out.Body, nil
}

func mapError(err error) error {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 404:
			return domain.E("s3store.Download", domain.KindNotFound, err)
		case 403:
			return domain.E("s3store.Download", domain.KindAuthz,
				errors.New("system clock may be out of date: "+err.Error()))
		}
	}
	return domain.E("s3store.Download", domain.KindTransient, err)
}

package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// minPartSize is the S3 minimum multipart part size (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter on the client's bucket.
type Writer struct {
	client *s3.Client
	bucket string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Put uploads data under path. Payloads of at least one multipart part go
// through the upload manager; smaller ones use a single PutObject.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if b, ok := data.(*bytes.Reader); ok && b.Size() >= minPartSize {
		return w.PutMultipart(ctx, path, data, contentType, minPartSize)
	}

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, domain.Transient(err))
	}
	return nil
}

// PutMultipart uploads data with the S3 upload manager, splitting it into
// parts of partSize bytes (clamped to the 5 MiB minimum).
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, domain.Transient(err))
	}
	return nil
}

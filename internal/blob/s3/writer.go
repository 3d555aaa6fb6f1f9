package s3blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

// objectPutter is the part of *s3.Client the Writer uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Writer implements domain.BlobWriter with single PutObject requests. Run
// reports are a few kilobytes, well below the multipart threshold.
type Writer struct {
	client objectPutter
	bucket string
	prefix string
}

// NewWriter creates a Writer storing objects under prefix in c's bucket.
func NewWriter(c *Client, prefix string) *Writer {
	return &Writer{client: c.S3(), bucket: c.Bucket(), prefix: strings.Trim(prefix, "/")}
}

func (w *Writer) key(path string) string {
	path = strings.TrimLeft(path, "/")
	if w.prefix == "" {
		return path
	}
	return w.prefix + "/" + path
}

// Put uploads data to path below the writer's prefix.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	key := w.key(path)
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)

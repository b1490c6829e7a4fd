package s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"github.com/openmined/syftxfer/internal/transfer"
)

// objectWriter accumulates writes and uploads the object in one PutObject on Close.
type objectWriter struct {
	ctx      context.Context
	endpoint *Endpoint
	path     string
	opts     transfer.WriteOptions
	buf      *bytes.Buffer
	done     bool
}

func newObjectWriter(ctx context.Context, e *Endpoint, p string, opts transfer.WriteOptions) *objectWriter {
	buf := new(bytes.Buffer)
	if opts.Size > 0 {
		buf.Grow(int(opts.Size))
	}
	return &objectWriter{ctx: ctx, endpoint: e, path: p, opts: opts, buf: buf}
}

func (w *objectWriter) Write(b []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("s3: write %q: writer closed", w.path)
	}
	return w.buf.Write(b)
}

func (w *objectWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	data := w.buf.Bytes()
	metadata := map[string]string{}
	if !w.opts.ModTime.IsZero() {
		metadata[metaModTime] = w.opts.ModTime.UTC().Format(time.RFC3339Nano)
	}
	if w.opts.Mode != 0 {
		metadata[metaMode] = fmt.Sprintf("%o", uint32(w.opts.Mode.Perm()))
	}

	e := w.endpoint
	_, err := e.client.PutObject(w.ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(e.key(w.path)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(mimetype.Detect(data).String()),
		Metadata:      metadata,
	})
	if err != nil {
		return fmt.Errorf("s3: put %q: %w", w.path, err)
	}

	slog.Debug("s3 put", "bucket", e.bucket, "key", e.key(w.path), "size", len(data))
	w.buf = nil
	return nil
}

// Abort drops the buffered object without uploading it
func (w *objectWriter) Abort() error {
	w.done = true
	w.buf = nil
	return nil
}

var _ transfer.Aborter = (*objectWriter)(nil)

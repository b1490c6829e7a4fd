// Package s3 implements a transfer endpoint over an S3 compatible bucket.
// Directories are key prefixes; an empty directory is kept as a "dir/" marker object.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openmined/syftxfer/internal/transfer"
	"github.com/openmined/syftxfer/internal/utils"
	"github.com/openmined/syftxfer/internal/version"
)

const (
	metaModTime = "mtime"
	metaMode    = "mode"

	deleteBatchSize        = 1000
	defaultHeadConcurrency = 16
	defaultHeadCacheSize   = 4096
)

var ErrNotDirectory = errors.New("s3: not a directory")

// API is the subset of the S3 client the endpoint uses
type API interface {
	awss3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
}

type Config struct {
	Bucket        string `json:"bucket" mapstructure:"bucket"`
	Prefix        string `json:"prefix,omitempty" mapstructure:"prefix"`
	Region        string `json:"region,omitempty" mapstructure:"region"`
	AccessKey     string `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey     string `json:"secret_key,omitempty" mapstructure:"secret_key"`
	Endpoint      string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	UseAccelerate bool   `json:"use_accelerate,omitempty" mapstructure:"use_accelerate"`

	// HeadConcurrency bounds the metadata requests issued while listing
	HeadConcurrency int `json:"head_concurrency,omitempty" mapstructure:"head_concurrency"`
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("bucket", c.Bucket),
		slog.String("prefix", c.Prefix),
		slog.String("region", c.Region),
		slog.String("endpoint", c.Endpoint),
		slog.String("access_key", utils.MaskSecret(c.AccessKey)),
		slog.String("secret_key", utils.MaskSecret(c.SecretKey)),
	)
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &transfer.ConfigurationError{Field: "s3.bucket", Reason: "bucket is required"}
	}
	if c.HeadConcurrency < 0 {
		return &transfer.ConfigurationError{Field: "s3.head_concurrency", Reason: "must not be negative"}
	}
	return nil
}

// objectMeta is what HeadObject adds on top of a listing entry
type objectMeta struct {
	modTime time.Time
	mode    fs.FileMode
}

type Endpoint struct {
	client          API
	bucket          string
	prefix          string
	headConcurrency int
	heads           *lru.Cache[string, objectMeta]
}

// New returns an endpoint over client rooted at cfg.Prefix
func New(client API, cfg *Config) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	heads, err := lru.New[string, objectMeta](defaultHeadCacheSize)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.HeadConcurrency
	if concurrency == 0 {
		concurrency = defaultHeadConcurrency
	}

	return &Endpoint{
		client:          client,
		bucket:          cfg.Bucket,
		prefix:          transfer.CleanPath(cfg.Prefix),
		headConcurrency: concurrency,
		heads:           heads,
	}, nil
}

// NewFromConfig builds the AWS client from static credentials, or the default chain when none are set.
func NewFromConfig(ctx context.Context, cfg *Config) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
		config.WithAppID(version.AppName),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
	})

	return New(client, cfg)
}

func (e *Endpoint) Bucket() string {
	return e.bucket
}

func (e *Endpoint) key(p string) string {
	return transfer.JoinPath(e.prefix, p)
}

// dirKey is the listing prefix of a directory, "" for the bucket root
func (e *Endpoint) dirKey(p string) string {
	k := e.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

// relPath maps a key back to an endpoint path
func (e *Endpoint) relPath(key string) string {
	key = strings.TrimSuffix(key, "/")
	if e.prefix == "" {
		return transfer.CleanPath(key)
	}
	return transfer.CleanPath(strings.TrimPrefix(key, e.prefix+"/"))
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func notExist(op, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
}

func (e *Endpoint) Stat(ctx context.Context, p string) (*transfer.Node, error) {
	p = transfer.CleanPath(p)

	if e.key(p) != "" {
		head, err := e.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(e.bucket),
			Key:    aws.String(e.key(p)),
		})
		if err == nil {
			meta := e.parseMeta(head.Metadata, aws.ToTime(head.LastModified))
			e.heads.Add(cacheKey(e.key(p), aws.ToString(head.ETag)), meta)
			return &transfer.Node{
				Path:    p,
				Kind:    transfer.KindFile,
				Size:    aws.ToInt64(head.ContentLength),
				ModTime: meta.modTime,
				Mode:    meta.mode,
			}, nil
		}
		if !isNotFound(err) {
			return nil, fmt.Errorf("s3: head %q: %w", p, err)
		}
	}

	// the bucket root exists whenever there is no prefix
	if e.dirKey(p) == "" {
		return &transfer.Node{Path: p, Kind: transfer.KindDirectory}, nil
	}

	out, err := e.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(e.bucket),
		Prefix:  aws.String(e.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: list %q: %w", p, err)
	}
	if len(out.Contents) == 0 {
		return nil, notExist("stat", p)
	}

	node := &transfer.Node{Path: p, Kind: transfer.KindDirectory}
	if obj := out.Contents[0]; aws.ToString(obj.Key) == e.dirKey(p) {
		node.ModTime = aws.ToTime(obj.LastModified)
	}
	return node, nil
}

func (e *Endpoint) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := e.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, notExist("open", p)
		}
		return nil, fmt.Errorf("s3: get %q: %w", p, err)
	}
	return out.Body, nil
}

// Create buffers the object in memory and uploads it on Close
func (e *Endpoint) Create(ctx context.Context, p string, opts transfer.WriteOptions) (io.WriteCloser, error) {
	p = transfer.CleanPath(p)
	if p == "" && e.prefix == "" {
		return nil, fmt.Errorf("s3: cannot write the bucket root")
	}
	return newObjectWriter(ctx, e, p, opts), nil
}

func (e *Endpoint) Mkdir(ctx context.Context, p string) error {
	p = transfer.CleanPath(p)
	if e.dirKey(p) == "" {
		return nil
	}

	_, err := e.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(p)),
	})
	if err == nil {
		return fmt.Errorf("s3: mkdir %q: %w", p, ErrNotDirectory)
	}
	if !isNotFound(err) {
		return fmt.Errorf("s3: head %q: %w", p, err)
	}

	_, err = e.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(e.dirKey(p)),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
		ContentType:   aws.String("application/x-directory"),
	})
	if err != nil {
		return fmt.Errorf("s3: mkdir %q: %w", p, err)
	}
	return nil
}

func (e *Endpoint) Remove(ctx context.Context, p string, recursive bool) error {
	p = transfer.CleanPath(p)
	if p == "" {
		return fmt.Errorf("s3: refusing to remove the endpoint root")
	}

	_, err := e.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(p)),
	})
	switch {
	case err == nil:
		_, err = e.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(e.bucket),
			Key:    aws.String(e.key(p)),
		})
		if err != nil {
			return fmt.Errorf("s3: delete %q: %w", p, err)
		}
		return nil
	case !isNotFound(err):
		return fmt.Errorf("s3: head %q: %w", p, err)
	}

	keys, err := e.allKeys(ctx, e.dirKey(p))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return notExist("remove", p)
	}
	if !recursive && (len(keys) > 1 || keys[0] != e.dirKey(p)) {
		return fmt.Errorf("s3: remove %q: directory not empty", p)
	}

	return e.deleteKeys(ctx, keys)
}

func (e *Endpoint) allKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := awss3.NewListObjectsV2Paginator(e.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// deleteKeys removes keys in batches, deepest keys first so markers go last
func (e *Endpoint) deleteKeys(ctx context.Context, keys []string) error {
	var errs []error
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := e.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(e.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, failed := range out.Errors {
			errs = append(errs, fmt.Errorf("s3: delete %q: %s", aws.ToString(failed.Key), aws.ToString(failed.Message)))
		}
	}
	return errors.Join(errs...)
}

func (e *Endpoint) parseMeta(meta map[string]string, lastModified time.Time) objectMeta {
	out := objectMeta{modTime: lastModified}
	if v, ok := meta[metaModTime]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			out.modTime = t
		}
	}
	if v, ok := meta[metaMode]; ok {
		var mode uint32
		if _, err := fmt.Sscanf(v, "%o", &mode); err == nil {
			out.mode = fs.FileMode(mode).Perm()
		}
	}
	return out
}

func cacheKey(key, etag string) string {
	return key + "@" + strings.Trim(etag, `"`)
}

var _ transfer.Endpoint = (*Endpoint)(nil)

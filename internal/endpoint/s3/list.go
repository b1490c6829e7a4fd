package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/openmined/syftxfer/internal/transfer"
)

type listedObject struct {
	node *transfer.Node
	key  string
	etag string
	gone bool
}

// List returns the direct children of dir. Sub directories come from common
// prefixes, file metadata (mtime and mode) from HeadObject, cached per etag.
func (e *Endpoint) List(ctx context.Context, dir string) ([]*transfer.Node, error) {
	dir = transfer.CleanPath(dir)
	prefix := e.dirKey(dir)

	paginator := awss3.NewListObjectsV2Paginator(e.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(e.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	found := prefix == ""
	var nodes []*transfer.Node
	var objects []*listedObject

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %q: %w", dir, err)
		}

		for _, cp := range page.CommonPrefixes {
			found = true
			nodes = append(nodes, &transfer.Node{
				Path: e.relPath(aws.ToString(cp.Prefix)),
				Kind: transfer.KindDirectory,
			})
		}

		for _, obj := range page.Contents {
			found = true
			key := aws.ToString(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue // directory marker
			}
			node := &transfer.Node{
				Path:    e.relPath(key),
				Kind:    transfer.KindFile,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			}
			nodes = append(nodes, node)
			objects = append(objects, &listedObject{node: node, key: key, etag: aws.ToString(obj.ETag)})
		}
	}

	if !found {
		return nil, notExist("list", dir)
	}

	if err := e.fillMeta(ctx, objects); err != nil {
		return nil, err
	}

	gone := make(map[*transfer.Node]bool)
	for _, obj := range objects {
		if obj.gone {
			gone[obj.node] = true
		}
	}
	if len(gone) == 0 {
		return nodes, nil
	}
	live := nodes[:0]
	for _, n := range nodes {
		if !gone[n] {
			live = append(live, n)
		}
	}
	return live, nil
}

// fillMeta resolves the metadata listing does not return
func (e *Endpoint) fillMeta(ctx context.Context, objects []*listedObject) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.headConcurrency)

	for _, obj := range objects {
		ck := cacheKey(obj.key, obj.etag)
		if meta, ok := e.heads.Get(ck); ok {
			obj.node.ModTime = meta.modTime
			obj.node.Mode = meta.mode
			continue
		}

		g.Go(func() error {
			head, err := e.client.HeadObject(gctx, &awss3.HeadObjectInput{
				Bucket: aws.String(e.bucket),
				Key:    aws.String(obj.key),
			})
			if err != nil {
				if isNotFound(err) {
					// removed since listing
					obj.gone = true
					return nil
				}
				return fmt.Errorf("s3: head %q: %w", obj.node.Path, err)
			}

			meta := e.parseMeta(head.Metadata, obj.node.ModTime)
			e.heads.Add(ck, meta)
			obj.node.ModTime = meta.modTime
			obj.node.Mode = meta.mode
			return nil
		})
	}

	return g.Wait()
}

// Package archive keeps terminated executions, along with their logs, in a
// blob store
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/kode4food/cascade/pkg/api"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

type (
	// BlobArchive stores Records using gocloud.dev/blob, supporting S3, GCS,
	// Azure Blob Storage, S3-compatible stores, and local files
	BlobArchive struct {
		bucket *blob.Bucket
		prefix string
	}

	// Record is an archived execution
	Record struct {
		Execution  *api.Execution  `json:"execution"`
		Logs       []*api.LogEntry `json:"logs,omitempty"`
		ArchivedAt time.Time       `json:"archivedAt"`
	}
)

const recordExtension = ".json"

var ErrRecordNotFound = errors.New("archived execution not found")

func NewBlobArchive(
	ctx context.Context, bucketURL, prefix string,
) (*BlobArchive, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobArchive{bucket: bucket, prefix: prefix}, nil
}

func (a *BlobArchive) Get(
	ctx context.Context, namespace, flowID, id string,
) (*Record, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(namespace, flowID, id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (a *BlobArchive) Put(ctx context.Context, rec *Record) error {
	e := rec.Execution
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(
		ctx, a.keyFor(e.Namespace, e.FlowID, e.ID), data,
		&blob.WriterOptions{ContentType: "application/json"},
	)
}

func (a *BlobArchive) Delete(
	ctx context.Context, namespace, flowID, id string,
) error {
	err := a.bucket.Delete(ctx, a.keyFor(namespace, flowID, id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// List returns the ids of the archived executions of a flow
func (a *BlobArchive) List(
	ctx context.Context, namespace, flowID string,
) ([]string, error) {
	prefix := a.prefix + path.Join(namespace, flowID) + "/"
	iter := a.bucket.List(&blob.ListOptions{Prefix: prefix})

	var res []string
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, recordExtension) {
			continue
		}
		id := strings.TrimPrefix(obj.Key, prefix)
		res = append(res, strings.TrimSuffix(id, recordExtension))
	}
}

func (a *BlobArchive) Close() error {
	return a.bucket.Close()
}

func (a *BlobArchive) keyFor(namespace, flowID, id string) string {
	return a.prefix + path.Join(namespace, flowID, id) + recordExtension
}

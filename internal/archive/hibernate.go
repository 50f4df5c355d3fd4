package archive

import (
	"context"
	"encoding/json"

	"github.com/kode4food/timebox"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Hibernator moves idle timebox aggregates into the archive's bucket, under
// their own prefix, and restores them on demand
type Hibernator struct {
	bucket *blob.Bucket
	prefix string
}

const DefaultHibernatePrefix = "hibernated/"

var _ timebox.Hibernator = (*Hibernator)(nil)

// Hibernator returns a timebox.Hibernator that shares the archive's
// bucket. The archive keeps ownership of the bucket
func (a *BlobArchive) Hibernator(prefix string) *Hibernator {
	return &Hibernator{
		bucket: a.bucket,
		prefix: a.prefix + prefix,
	}
}

func (h *Hibernator) Get(
	ctx context.Context, id timebox.AggregateID,
) (*timebox.HibernateRecord, error) {
	data, err := h.bucket.ReadAll(ctx, h.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, timebox.ErrHibernateNotFound
		}
		return nil, err
	}

	var rec timebox.HibernateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (h *Hibernator) Put(
	ctx context.Context, id timebox.AggregateID, rec *timebox.HibernateRecord,
) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return h.bucket.WriteAll(ctx, h.keyFor(id), data, nil)
}

func (h *Hibernator) Delete(ctx context.Context, id timebox.AggregateID) error {
	err := h.bucket.Delete(ctx, h.keyFor(id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Close does nothing, as the bucket is closed with the archive
func (h *Hibernator) Close() error {
	return nil
}

func (h *Hibernator) keyFor(id timebox.AggregateID) string {
	return h.prefix + id.Join("/") + recordExtension
}

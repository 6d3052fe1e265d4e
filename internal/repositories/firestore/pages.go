package firestore

import (
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pharmly/api/internal/domain"
	pfirestore "github.com/pharmly/api/internal/platform/firestore"
	"github.com/pharmly/api/internal/platform/pagination"
)

// newestFirst orders a query by createdAt then document id, both descending, and applies the
// cursor and the look-ahead limit used to detect a following page.
func newestFirst(pager domain.Pagination) (func(firestore.Query) firestore.Query, int, error) {
	size := pagination.Normalize(pager.PageSize)
	var cursor pagination.Cursor
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := pagination.DecodeToken(token)
		if err != nil {
			return nil, 0, err
		}
		cursor = decoded
	}
	return func(q firestore.Query) firestore.Query {
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	}, size, nil
}

// page trims the look-ahead document and encodes the cursor of the last returned one.
func page[T, D any](docs []pfirestore.Document[D], size int, convert func(pfirestore.Document[D]) T, createdAt func(T) time.Time, id func(T) string) domain.CursorPage[T] {
	more := len(docs) > size
	if more {
		docs = docs[:size]
	}
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		items = append(items, convert(doc))
	}
	result := domain.CursorPage[T]{Items: items}
	if more && len(items) > 0 {
		last := items[len(items)-1]
		result.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt(last), ID: id(last)})
	}
	return result
}

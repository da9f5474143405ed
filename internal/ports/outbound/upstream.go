package outbound

import (
	"context"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
)

// Page is one page of a paginated upstream listing. Only the slice matching
// the requested kind is populated.
type Page struct {
	// Number is the 1-based page number.
	Number int

	// Total is the page count reported by upstream for the listing.
	Total int

	Items   []*entity.Item
	Recipes []*entity.Recipe
	Prices  []*entity.PriceSnapshot
}

// Next returns the following page number, or 0 when this is the last page.
func (p *Page) Next() int {
	if p.Number >= p.Total {
		return 0
	}
	return p.Number + 1
}

// Len returns the number of records on the page.
func (p *Page) Len() int {
	return len(p.Items) + len(p.Recipes) + len(p.Prices)
}

// BatchResult holds records fetched by id. Ids upstream did not return are
// listed in Missing; a missing id is never a batch failure.
type BatchResult struct {
	Items   []*entity.Item
	Recipes []*entity.Recipe

	// Prices carry no timestamp; the caller stamps them.
	Prices []*entity.PriceSnapshot

	Missing []int64
}

// Upstream is the remote catalog and trading-post API.
//
// Errors wrap one of entity.ErrTransient (already retried by the adapter),
// entity.ErrNotFound, entity.ErrSchemaMismatch or entity.ErrFatal.
type Upstream interface {
	// FetchPage returns one page of the listing for kind. Pages are 1-based.
	FetchPage(ctx context.Context, kind entity.JobKind, page int) (*Page, error)

	// FetchBatch looks up records of kind by id. len(ids) must not exceed MaxBatchSize.
	FetchBatch(ctx context.Context, kind entity.JobKind, ids []int64) (*BatchResult, error)

	// FetchRecipesForItem returns every recipe whose output is itemID.
	// An item with no recipe yields an empty slice and no error.
	FetchRecipesForItem(ctx context.Context, itemID int64) ([]*entity.Recipe, error)

	// MaxBatchSize is the largest id list FetchBatch accepts.
	MaxBatchSize() int
}

// HistorySource provides past trading-post quotes for an item.
type HistorySource interface {
	// FetchHistory returns snapshots for itemID ordered by timestamp.
	// An item the source has never tracked yields an empty slice.
	FetchHistory(ctx context.Context, itemID int64) ([]*entity.PriceSnapshot, error)
}

// Package tilroy defines the streams of the Tilroy retail API: their
// schemas, endpoints, replication settings and record transforms.
//
// The export endpoints page with page (from 1) and count parameters and
// stop on a short page. Incremental streams send the lower bound as
// dateFrom=YYYY-MM-DD one day before the bookmark, so boundary records are
// delivered again rather than lost; those streams are not strictly
// incremental.
package tilroy

import (
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/catalog"
	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/paginate"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

const (
	StreamShops          = "shops"
	StreamProducts       = "products"
	StreamPurchaseOrders = "purchase_orders"
	StreamStockChanges   = "stock_changes"
	StreamSales          = "sales"
)

const (
	dateParam    = "dateFrom"
	dateLayout   = "2006-01-02"
	dateLookback = 24 * time.Hour
)

// Source selects where stream pages come from.
type Source int

const (
	// SourceAPI reads the Tilroy REST API.
	SourceAPI Source = iota
	// SourceDatabase reads a relational mirror holding one table per
	// stream, named after the stream.
	SourceDatabase
)

// Streams returns the descriptors of every Tilroy stream, all selected.
func Streams(src Source) []*catalog.StreamDescriptor {
	streams := []*catalog.StreamDescriptor{
		{
			ID:                StreamShops,
			Schema:            shopSchema(),
			KeyProperties:     []string{"tilroyId"},
			ReplicationMethod: catalog.FullTable,
			PageSize:          100,
			Endpoint:          endpoint("/shopapi/production/shops", false),
			Transform: transform(StreamShops,
				flatten("type", "type_"),
				flatten("subType", "subType_"),
				flatten("language", "language_"),
				flatten("country", "country_"),
			),
		},
		{
			ID:                StreamProducts,
			Schema:            productSchema(),
			KeyProperties:     []string{"tilroyId"},
			ReplicationMethod: catalog.FullTable,
			PageSize:          1000,
			Endpoint:          endpoint("/product-bulk/production/products", false),
			Transform:         transform(StreamProducts, flatten("brand", "brand_")),
		},
		{
			ID:                StreamPurchaseOrders,
			Schema:            purchaseOrderSchema(),
			KeyProperties:     []string{"tilroyId"},
			ReplicationMethod: catalog.Incremental,
			ReplicationKey:    "orderDate",
			BookmarkKind:      state.KindTimestamp,
			PageSize:          100,
			Endpoint:          endpoint("/purchaseapi/production/purchaseorders", true),
			Transform: transform(StreamPurchaseOrders,
				flatten("supplier", "supplier_"),
				flatten("warehouse", "warehouse_"),
				flatten("currency", "currency_"),
				flattenEach("prices", "tenantCurrency", "supplierCurrency"),
				audit("created"),
				audit("modified"),
			),
		},
		{
			ID:                StreamStockChanges,
			Schema:            stockChangeSchema(),
			KeyProperties:     []string{"tilroyId"},
			ReplicationMethod: catalog.Incremental,
			ReplicationKey:    "saleDate",
			BookmarkKind:      state.KindTimestamp,
			PageSize:          500,
			Endpoint:          endpoint("/stockapi/production/export/stockdeltas", true),
			Transform: transform(StreamStockChanges,
				flatten("shop", "shop_"),
				flatten("product", "product_"),
				flatten("colour", "colour_"),
				flatten("size", "size_"),
				flatten("sku", "sku_"),
			),
		},
		{
			ID:                StreamSales,
			Schema:            saleSchema(),
			KeyProperties:     []string{"idTilroySale"},
			ReplicationMethod: catalog.Incremental,
			ReplicationKey:    "saleDate",
			BookmarkKind:      state.KindTimestamp,
			PageSize:          500,
			Endpoint:          endpoint("/saleapi/production/export/sales", true),
			Transform: transform(StreamSales,
				flatten("customer", "customer_"),
				flatten("shop", "shop_"),
				flatten("till", "till_"),
				flatten("legalEntity", "legalEntity_"),
				flatten("vatTypeCalculation", "vatTypeCalculation_"),
			),
		},
	}

	for _, d := range streams {
		d.Strategy = paginate.StrategyOffset
		d.Selected = true
		if src == SourceDatabase {
			d.Query = &fetch.SQLQuery{
				Table:          d.ID,
				ReplicationKey: d.ReplicationKey,
				KeyColumns:     d.KeyProperties,
			}
			d.Endpoint = nil
		}
	}
	return streams
}

// Registry returns a catalog registry holding every Tilroy stream.
func Registry(src Source, logger *zap.Logger) *catalog.Registry {
	return catalog.NewRegistry(logger).MustRegister(Streams(src)...)
}

func endpoint(path string, incremental bool) *fetch.HTTPEndpoint {
	ep := &fetch.HTTPEndpoint{
		Path:      path,
		PageParam: "page",
		PageBase:  1,
		SizeParam: "count",
	}
	if incremental {
		ep.BoundParam = dateParam
		ep.BoundLayout = dateLayout
		ep.BoundLookback = dateLookback
	}
	return ep
}

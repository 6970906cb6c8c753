package tilroy

import "github.com/ajitpratap0/tap-tilroy/pkg/schema"

var (
	str  = schema.String
	num  = schema.Number
	intg = schema.Integer
	boo  = schema.Boolean
	p    = schema.Prop
)

// amount accepts prices sent either as numbers or as decimal strings.
func amount() *schema.Schema {
	return schema.Union(schema.TypeNumber, schema.TypeString, schema.TypeNull)
}

// anyObject accepts an object without declaring its properties.
func anyObject() *schema.Schema {
	return schema.Union(schema.TypeObject, schema.TypeNull)
}

func texts(names ...string) []schema.Property {
	out := make([]schema.Property, len(names))
	for i, n := range names {
		out[i] = p(n, str())
	}
	return out
}

func object(props ...[]schema.Property) *schema.Schema {
	var all []schema.Property
	for _, ps := range props {
		all = append(all, ps...)
	}
	return schema.Object(all...)
}

func nullableObject(props ...schema.Property) *schema.Schema {
	return schema.NullableObject(props...)
}

func shopSchema() *schema.Schema {
	return object(
		texts("tilroyId", "sourceId", "number", "name",
			"type_tilroyId", "type_code", "subType_tilroyId", "subType_code",
			"language_tilroyId", "language_code",
			"latitude", "longitude", "postalCode", "street", "houseNumber",
			"country_tilroyId", "country_countryCode"),
		[]schema.Property{p("legalEntityId", intg())},
	)
}

func productSchema() *schema.Schema {
	description := nullableObject(p("languageCode", str()), p("standard", str()))
	sku := nullableObject(
		p("tilroyId", str()),
		p("sourceId", str()),
		p("costPrice", num()),
		p("barcodes", schema.Array(nullableObject(
			p("code", str()),
			p("quantity", intg()),
			p("isInternal", boo()),
		))),
		p("size", nullableObject(p("code", str()))),
		p("lifeStatus", nullableObject(p("code", str()))),
		p("rrp", schema.Array(anyObject())),
	)
	colour := nullableObject(
		p("tilroyId", str()),
		p("sourceId", str()),
		p("code", str()),
		p("skus", schema.Array(sku)),
		p("pictures", schema.Array(anyObject())),
	)
	return object(
		texts("tilroyId", "sourceId", "code", "brand_code"),
		[]schema.Property{
			p("descriptions", schema.Array(description)),
			p("brand_descriptions", schema.Array(description)),
			p("colours", schema.Array(colour)),
			p("isUsed", boo()),
		},
	)
}

func purchaseOrderSchema() *schema.Schema {
	var prices []schema.Property
	for _, cur := range []string{"tenantCurrency", "supplierCurrency"} {
		for _, f := range []string{"standardVatExc", "standardVatInc", "vatExc", "vatInc"} {
			prices = append(prices, p("prices_"+cur+"_"+f, amount()))
		}
	}

	var linePrices []schema.Property
	for _, cur := range []string{"tenantCurrency", "supplierCurrency"} {
		for _, f := range []string{"vatExc", "vatInc", "unitVatExc", "unitVatInc", "standardUnitVatExc", "standardVatExc", "standardVatInc", "standardUnitVatInc"} {
			linePrices = append(linePrices, p("prices_"+cur+"_"+f, amount()))
		}
	}
	line := object(
		texts("sku_tilroyId", "sku_sourceId", "warehouse_name",
			"created_user_login", "created_user_sourceId",
			"modified_user_login", "modified_user_sourceId",
			"status", "requestedDeliveryDate", "id"),
		[]schema.Property{
			p("warehouse_number", intg()),
			p("qty_ordered", intg()),
			p("qty_delivered", intg()),
			p("qty_backOrder", intg()),
			p("qty_cancelled", intg()),
			p("discount_amount", amount()),
			p("discount_percentage", amount()),
			p("discount_total", amount()),
			p("discount_newStandardPrice", amount()),
		},
		linePrices,
	)
	line.Types = append(line.Types, schema.TypeNull)

	return object(
		texts("tilroyId", "number", "supplier_code", "supplier_name", "supplierReference",
			"requestedDeliveryDate", "warehouse_name", "currency_code", "status",
			"created_user_login", "created_user_sourceId", "created_timestamp",
			"modified_user_login", "modified_user_sourceId", "modified_timestamp"),
		[]schema.Property{
			p("orderDate", schema.DateTime()),
			p("supplier_tilroyId", intg()),
			p("warehouse_number", intg()),
			p("lines", schema.Array(line)),
		},
		prices,
	)
}

func stockChangeSchema() *schema.Schema {
	return object(
		texts("tilroyId", "sourceId", "reason", "shop_sourceId",
			"product_code", "product_sourceId", "colour_code", "colour_sourceId",
			"size_code", "sku_barcode", "sku_sourceId", "cause"),
		[]schema.Property{
			p("saleDate", schema.DateTime()),
			p("shop_number", intg()),
			p("qtyDelta", intg()),
			p("qtyTransferredDelta", intg()),
			p("qtyReservedDelta", intg()),
			p("qtyRequestedDelta", intg()),
		},
	)
}

func saleSchema() *schema.Schema {
	line := object(
		texts("idTilroySaleLine", "type", "description", "code", "comments",
			"serialNumberSale", "webDescription", "colour", "size", "ean", "timestamp"),
		[]schema.Property{
			p("sku", nullableObject(p("idTilroy", str()), p("idSource", str()))),
			p("quantity", intg()),
			p("quantityReturned", intg()),
			p("quantityNet", intg()),
			p("discountType", intg()),
		},
		numbers("costPrice", "sellPrice", "standardPrice", "promoPrice", "rrp",
			"retailPrice", "discount", "lineTotalCost", "lineTotalStandard",
			"lineTotalSell", "lineTotalDiscount", "lineTotalVatExcl", "lineTotalVat",
			"vatPercentage"),
	)
	line.Types = append(line.Types, schema.TypeNull)

	payment := nullableObject(
		p("idTilroySalePayment", str()),
		p("paymentType", nullableObject(
			p("idTilroy", str()),
			p("code", str()),
			p("idSource", str()),
			p("descriptions", schema.Array(nullableObject(p("description", str()), p("languageCode", str())))),
			p("reporting", boo()),
		)),
		p("amount", num()),
		p("paymentReference", str()),
		p("timestamp", str()),
		p("isPaid", boo()),
	)

	vat := object(
		texts("idTilroy", "vatKind", "timestamp"),
		numbers("vatPercentage", "amountNet", "amountLines", "amountTaxable", "amountVat", "vatAmount", "totalAmount"),
	)
	vat.Types = append(vat.Types, schema.TypeNull)

	return object(
		texts("idTilroySale", "idTenant", "idSession",
			"customer_idTilroy", "customer_idSource", "idSourceCustomer",
			"vatTypeCalculation_IdVatType", "vatTypeCalculation_VatTypeCode",
			"vatTypeCalculation_VatNumber", "vatTypeCalculation_IdCustomer",
			"shop_idTilroy", "shop_idSource", "shop_name", "shop_country",
			"till_idTilroy", "till_idSource", "orderDate",
			"legalEntity_idTilroy", "legalEntity_code", "legalEntity_name", "legalEntity_vatNr"),
		booleans("vatTypeCalculation_UseCalculation", "vatTypeCalculation_VatExempt",
			"vatTypeCalculation_IsVatIncl", "vatTypeCalculation_IsIntraComm",
			"vatTypeCalculation_IsExport", "vatTypeCalculation_IsCustom",
			"vatTypeCalculation_CountryFromIsIntrastat", "vatTypeCalculation_CountryToIsIntrastat",
			"vatTypeCalculation_Invoice", "eTicket"),
		[]schema.Property{
			p("vatTypeCalculation_IdCountryFrom", intg()),
			p("vatTypeCalculation_IdCountryTo", intg()),
			p("shop_number", intg()),
			p("till_number", intg()),
			p("saleDate", schema.DateTime()),
			p("lines", schema.Array(line)),
			p("payments", schema.Array(payment)),
			p("vat", schema.Array(vat)),
		},
		numbers("totalAmountStandard", "totalAmountSell", "totalAmountDiscount",
			"totalAmountSellRounded", "totalAmountSellRoundedPart",
			"totalAmountSellNotRoundedPart", "totalAmountOutstanding", "totalAmountPaid"),
	)
}

func numbers(names ...string) []schema.Property {
	out := make([]schema.Property, len(names))
	for i, n := range names {
		out[i] = p(n, num())
	}
	return out
}

func booleans(names ...string) []schema.Property {
	out := make([]schema.Property, len(names))
	for i, n := range names {
		out[i] = p(n, boo())
	}
	return out
}

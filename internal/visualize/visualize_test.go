package visualize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfer(t *testing.T) {
	cases := []struct {
		name    string
		columns []string
		rows    []map[string]any
		chart   ChartType
		x, y    string
		series  string
	}{
		{
			name:    "top products by sales",
			columns: []string{"product_id", "product_name", "total_sold"},
			rows: []map[string]any{
				{"product_id": int64(7), "product_name": "desk", "total_sold": int64(120)},
				{"product_id": int64(3), "product_name": "lamp", "total_sold": int64(95)},
				{"product_id": int64(9), "product_name": "chair", "total_sold": int64(80)},
			},
			chart: Bar, x: "product_name", y: "total_sold",
		},
		{
			name:    "monthly revenue",
			columns: []string{"order_month", "revenue"},
			rows: []map[string]any{
				{"order_month": "2024-01", "revenue": 10.5},
				{"order_month": "2024-02", "revenue": 12.0},
			},
			chart: Line, x: "order_month", y: "revenue",
		},
		{
			name:    "daily revenue per category",
			columns: []string{"order_date", "category", "revenue"},
			rows: []map[string]any{
				{"order_date": "2024-01-01", "category": "books", "revenue": 3.0},
				{"order_date": "2024-01-01", "category": "toys", "revenue": 4.0},
			},
			chart: Line, x: "order_date", y: "revenue", series: "category",
		},
		{
			name:    "price vs cost",
			columns: []string{"price", "cost"},
			rows: []map[string]any{
				{"price": 10.0, "cost": 4.0},
				{"price": 20.0, "cost": 9.0},
			},
			chart: Scatter, x: "price", y: "cost",
		},
		{
			name:    "share of payments",
			columns: []string{"payment_method", "order_share"},
			rows: []map[string]any{
				{"payment_method": "card", "order_share": 0.7},
				{"payment_method": "cash", "order_share": 0.3},
			},
			chart: Pie, x: "payment_method", y: "order_share",
		},
		{
			name:    "status by region",
			columns: []string{"region", "status", "orders"},
			rows: []map[string]any{
				{"region": "north", "status": "paid", "orders": int64(4)},
			},
			chart: Bar, x: "region", y: "orders", series: "status",
		},
		{
			name:    "text only",
			columns: []string{"username", "email"},
			rows: []map[string]any{
				{"username": "ann", "email": "a@example.com"},
			},
			chart: Table,
		},
		{
			name:    "numeric measure with a period word in its name",
			columns: []string{"category", "monthly_sales"},
			rows: []map[string]any{
				{"category": "A", "monthly_sales": 10.5},
				{"category": "B", "monthly_sales": 7.0},
			},
			chart: Bar, x: "category", y: "monthly_sales",
		},
		{
			name:    "average delivery days per product",
			columns: []string{"name", "avg_delivery_days"},
			rows: []map[string]any{
				{"name": "desk", "avg_delivery_days": 3.5},
				{"name": "lamp", "avg_delivery_days": int64(2)},
			},
			chart: Bar, x: "name", y: "avg_delivery_days",
		},
		{
			name:    "numeric year axis",
			columns: []string{"year", "revenue"},
			rows: []map[string]any{
				{"year": int64(2023), "revenue": 10.0},
				{"year": int64(2024), "revenue": 12.0},
			},
			chart: Line, x: "year", y: "revenue",
		},
		{
			name:    "ids only labels",
			columns: []string{"user_id", "order_count"},
			rows: []map[string]any{
				{"user_id": int64(1), "order_count": int64(3)},
			},
			chart: Bar, x: "user_id", y: "order_count",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := Infer(tc.columns, tc.rows)
			require.NotNil(t, spec)
			assert.Equal(t, tc.chart, spec.ChartType)
			assert.Equal(t, tc.x, spec.XField)
			assert.Equal(t, tc.y, spec.YField)
			assert.Equal(t, tc.series, spec.SeriesField)
		})
	}
}

func TestInfer_Empty(t *testing.T) {
	assert.Nil(t, Infer([]string{"a"}, nil))
	assert.Nil(t, Infer(nil, []map[string]any{{"a": 1}}))
}

func TestInfer_NullsIgnored(t *testing.T) {
	spec := Infer([]string{"name", "total"}, []map[string]any{
		{"name": "a", "total": nil},
		{"name": "b", "total": int64(2)},
	})
	require.NotNil(t, spec)
	assert.Equal(t, Bar, spec.ChartType)
}

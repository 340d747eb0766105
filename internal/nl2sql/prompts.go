package nl2sql

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultSchema describes the e-commerce warehouse when live introspection is unavailable.
const DefaultSchema = `E-commerce database schema:

1. users: user_id INTEGER PK, username VARCHAR(50), email VARCHAR(100), phone VARCHAR(20),
   registration_date DATETIME, last_login DATETIME, status VARCHAR(20) (active, inactive, suspended)
2. products: product_id INTEGER PK, name VARCHAR(200), description TEXT, category_id INTEGER FK categories,
   price DECIMAL(10,2), cost DECIMAL(10,2), inventory INTEGER, created_at DATETIME, updated_at DATETIME,
   status VARCHAR(20) (active, discontinued)
3. categories: category_id INTEGER PK, name VARCHAR(100), parent_id INTEGER (self reference), description TEXT
4. orders: order_id INTEGER PK, user_id INTEGER FK users, order_date DATETIME, total_amount DECIMAL(12,2),
   status VARCHAR(20) (pending, paid, shipped, delivered, canceled), shipping_address TEXT, payment_method VARCHAR(50)
5. order_items: item_id INTEGER PK, order_id INTEGER FK orders, product_id INTEGER FK products, quantity INTEGER,
   unit_price DECIMAL(10,2), discount DECIMAL(10,2), subtotal DECIMAL(10,2)
6. reviews: review_id INTEGER PK, product_id INTEGER FK products, user_id INTEGER FK users, rating INTEGER (1-5),
   comment TEXT, review_date DATETIME, helpful_votes INTEGER
7. inventory_history: history_id INTEGER PK, product_id INTEGER FK products, change_amount INTEGER
   (positive = stock in), change_date DATETIME, reason VARCHAR(100) (purchase, sale, return, adjustment), operator VARCHAR(50)
8. promotions: promotion_id INTEGER PK, name VARCHAR(100), description TEXT, discount_type VARCHAR(20)
   (percentage, fixed_amount), discount_value DECIMAL(10,2), start_date DATETIME, end_date DATETIME, active BOOLEAN
9. returns: return_id INTEGER PK, order_id INTEGER FK orders, product_id INTEGER FK products, return_date DATETIME,
   quantity INTEGER, reason TEXT, status VARCHAR(20) (pending, approved, rejected, refunded), refund_amount DECIMAL(10,2)
10. suppliers: supplier_id INTEGER PK, name VARCHAR(100), contact_person VARCHAR(50), email VARCHAR(100),
   phone VARCHAR(20), address TEXT, status VARCHAR(20) (active, inactive)

Common joins:
- orders.user_id = users.user_id
- order_items.order_id = orders.order_id, order_items.product_id = products.product_id
- products.category_id = categories.category_id
- reviews.product_id = products.product_id, reviews.user_id = users.user_id
- returns.order_id = orders.order_id, returns.product_id = products.product_id
- inventory_history.product_id = products.product_id
`

const generationSystemPrompt = `You are an e-commerce data analyst who translates questions into MySQL queries.

For every question produce:
1. A primary SQL query that fully answers the question.
2. A simpler fallback SQL query for when the primary one fails.
3. Three follow-up questions that help the user dig deeper. Each ends with a question mark.

Rules:
- Only SELECT statements. Never modify data.
- Use clear column aliases and explicit joins.
- Limit results to 100 rows unless the question asks for a specific number.

Answer with exactly one sql code block in this format:

` + "```sql" + `
-- primary sql
SELECT ...;

-- fallback sql
SELECT ...;

-- follow-up suggestions
1. ...?
2. ...?
3. ...?
` + "```"

func buildGenerationMessages(question, schema string) (system, user string) {
	if strings.TrimSpace(schema) == "" {
		schema = DefaultSchema
	}
	var b strings.Builder
	b.WriteString("## Database schema\n")
	b.WriteString(schema)
	b.WriteString("\n\n## Question\n")
	b.WriteString(strings.TrimSpace(question))
	return generationSystemPrompt, b.String()
}

// MaxExplainRows caps how many result rows are shown to the model.
const MaxExplainRows = 10

const explanationSystemPrompt = `You are a data analyst explaining query results to a business user.
Write in Markdown. Cover, briefly:
1. A one-paragraph summary of what the data shows.
2. Key findings and notable data points.
3. How the result answers the original question.
Do not invent numbers that are not in the data.`

func buildExplanationPrompt(question, sql string, rows []map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSQL:\n%s\n\n", strings.TrimSpace(question), strings.TrimSpace(sql))

	if len(rows) == 0 {
		b.WriteString("The query returned no rows.\n")
		return b.String()
	}

	shown := rows
	if len(shown) > MaxExplainRows {
		shown = shown[:MaxExplainRows]
	}
	fmt.Fprintf(&b, "Result (%d rows total, first %d shown as JSON lines):\n", len(rows), len(shown))
	for _, r := range shown {
		line, err := json.Marshal(r)
		if err != nil {
			line = []byte(fmt.Sprintf("%v", r))
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

const suggestionSystemPrompt = `You suggest follow-up questions for an e-commerce analytics tool.
Reply with exactly three numbered questions, one per line, each ending with a question mark.`

func buildSuggestionPrompt(question string, shape ResultShape) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Previous question: %s\n", strings.TrimSpace(question))
	if len(shape.Columns) > 0 {
		fmt.Fprintf(&b, "Result columns: %s\n", strings.Join(shape.Columns, ", "))
	}
	fmt.Fprintf(&b, "Row count: %d\n", shape.RowCount)
	return b.String()
}

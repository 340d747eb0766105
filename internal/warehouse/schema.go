package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/nl2sql-platform/internal/observability"
	"gorm.io/gorm"
)

// SchemaDescriber renders the live table layout as prompt context.
type SchemaDescriber struct {
	db       *gorm.DB
	fallback string
	ttl      time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	cached   string
	loadedAt time.Time
}

func NewSchemaDescriber(db *gorm.DB, fallback string, ttl time.Duration, logger *slog.Logger) *SchemaDescriber {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &SchemaDescriber{db: db, fallback: fallback, ttl: ttl, logger: logger}
}

// Describe never fails; introspection errors fall back to the static description.
func (s *SchemaDescriber) Describe(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" && time.Since(s.loadedAt) < s.ttl {
		return s.cached
	}

	text, err := s.introspect(ctx)
	if err != nil || text == "" {
		if err != nil {
			s.logger.WarnContext(ctx, "schema introspection failed, using fallback", slog.Any("err", err))
		}
		return s.fallback
	}
	s.cached = text
	s.loadedAt = time.Now()
	return text
}

// Invalidate drops the cached description.
func (s *SchemaDescriber) Invalidate() {
	s.mu.Lock()
	s.cached = ""
	s.mu.Unlock()
}

func (s *SchemaDescriber) introspect(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", nil
	}
	m := s.db.WithContext(ctx).Migrator()
	tables, err := m.GetTables()
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return "", nil
	}
	sort.Strings(tables)

	var b strings.Builder
	b.WriteString("Database tables:\n\n")
	for _, t := range tables {
		cols, err := m.ColumnTypes(t)
		if err != nil {
			return "", fmt.Errorf("columns of %s: %w", t, err)
		}
		fmt.Fprintf(&b, "%s:\n", t)
		for _, c := range cols {
			fmt.Fprintf(&b, "  - %s: %s", c.Name(), c.DatabaseTypeName())
			if pk, ok := c.PrimaryKey(); ok && pk {
				b.WriteString(" (primary key)")
			}
			if nullable, ok := c.Nullable(); ok && !nullable {
				b.WriteString(" (not null)")
			}
			if comment, ok := c.Comment(); ok && comment != "" {
				fmt.Fprintf(&b, " -- %s", comment)
			}
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

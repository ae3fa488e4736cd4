package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
	conflict  string
	returning []string
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{InsertBuilder: sqlbuilder.PostgreSQL.NewInsertBuilder()}
}

// OnConflictDoNothing skips rows that violate the conflict target. An empty
// target matches any unique constraint; where narrows it to a partial index.
func (b *InsertBuilder) OnConflictDoNothing(target []string, where string) *InsertBuilder {
	clause := "ON CONFLICT"
	if len(target) > 0 {
		clause += fmt.Sprintf(" (%s)", strings.Join(target, ", "))
		if where != "" {
			clause += " WHERE " + where
		}
	}
	b.conflict = clause + " DO NOTHING"
	return b
}

func (b *InsertBuilder) Returning(cols ...string) *InsertBuilder {
	b.returning = cols
	return b
}

// Build renders the insert with its conflict and returning clauses in postgres order.
func (b *InsertBuilder) Build() (string, []any) {
	query, args := b.InsertBuilder.Build()
	if b.conflict != "" {
		query += " " + b.conflict
	}
	if len(b.returning) > 0 {
		query += " RETURNING " + strings.Join(b.returning, ", ")
	}
	return query, args
}

func NewUpdateBuilder() *sqlbuilder.UpdateBuilder {
	return sqlbuilder.PostgreSQL.NewUpdateBuilder()
}

func NewDeleteBuilder() *sqlbuilder.DeleteBuilder {
	return sqlbuilder.PostgreSQL.NewDeleteBuilder()
}

func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

// Struct maps a db-tagged row type onto postgres builders.
type Struct struct {
	*sqlbuilder.Struct
}

func NewStruct(v any) *Struct {
	return &Struct{sqlbuilder.NewStruct(v).For(sqlbuilder.PostgreSQL)}
}

// WithoutTag excludes fields tagged fieldtag:"<tag>", such as generated keys.
func (s *Struct) WithoutTag(tags ...string) *Struct {
	return &Struct{s.Struct.WithoutTag(tags...)}
}

func (s *Struct) SelectFrom(table string) *sqlbuilder.SelectBuilder {
	return s.Struct.SelectFrom(table)
}

func (s *Struct) InsertInto(table string, v ...any) *InsertBuilder {
	return &InsertBuilder{InsertBuilder: s.Struct.InsertInto(table, v...)}
}

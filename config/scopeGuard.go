package config

import (
	"context"
	"strings"

	"github.com/mmdatafocus/cargo_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const scopeColumn = "submitter_scope"

// ScopeGuardPlugin scopes client read paths to the caller's submitter_scope when the
// model has that column. The synchronizer never carries a scope in its context, so
// webhook writes are unaffected.
//
// NOTE:
// - This does NOT apply to Raw SQL queries.
// - Operators bypass via ContextKeyIsAdmin.
type ScopeGuardPlugin struct{}

func NewScopeGuardPlugin() *ScopeGuardPlugin { return &ScopeGuardPlugin{} }

func (p *ScopeGuardPlugin) Name() string { return "scope_guard" }

func (p *ScopeGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("scope_guard:query", scopeGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("scope_guard:row", scopeGuardCallback); err != nil {
		return err
	}
	return nil
}

func scopeGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if isAdmin(ctx) || skipGuard(ctx) {
		return
	}
	scope := scopeFromContext(ctx)
	if scope == "" {
		return
	}
	if db.Statement.Schema == nil {
		return
	}
	if _, ok := db.Statement.Schema.FieldsByDBName[scopeColumn]; !ok {
		return
	}
	if whereHasScope(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: scopeColumn},
				Value:  scope,
			},
		},
	})
}

func scopeFromContext(ctx context.Context) string {
	v, _ := appctx.GetString(ctx, appctx.ContextKeySubmitterScope)
	return v
}

func isAdmin(ctx context.Context) bool {
	v, ok := appctx.GetBool(ctx, appctx.ContextKeyIsAdmin)
	return ok && v
}

func skipGuard(ctx context.Context) bool {
	v, ok := appctx.GetBool(ctx, appctx.ContextKeySkipScopeGuard)
	return ok && v
}

func whereHasScope(c clause.Clause) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasScope(e) {
			return true
		}
	}
	return false
}

func exprHasScope(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsScope(v.Column)
	case clause.IN:
		return colIsScope(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasScope(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		return strings.Contains(strings.ToLower(v.SQL), scopeColumn)
	default:
		return false
	}
}

func colIsScope(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, scopeColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, scopeColumn)
	default:
		return false
	}
}

package utils

import (
	"context"

	"github.com/mmdatafocus/cargo_backend/appctx"
)

// Alias the shared context key type so callers only import utils.
type contextKey = appctx.ContextKey

var (
	ContextKeyToken          = appctx.ContextKeyToken
	ContextKeySubmitterScope = appctx.ContextKeySubmitterScope
	ContextKeySubmitterEmail = appctx.ContextKeySubmitterEmail
	ContextKeyUserId         = appctx.ContextKeyUserId
	ContextKeyCorrelationId  = appctx.ContextKeyCorrelationId
	ContextKeyIsAdmin        = appctx.ContextKeyIsAdmin
	ContextKeySkipScopeGuard = appctx.ContextKeySkipScopeGuard
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetSubmitterScopeFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySubmitterScope)
}

func GetSubmitterEmailFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySubmitterEmail)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetIsAdminFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeyIsAdmin)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetSubmitterScopeInContext(ctx context.Context, scope string) context.Context {
	return appctx.Set(ctx, ContextKeySubmitterScope, scope)
}

func SetSubmitterEmailInContext(ctx context.Context, email string) context.Context {
	return appctx.Set(ctx, ContextKeySubmitterEmail, email)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return appctx.Set(ctx, ContextKeyIsAdmin, isAdmin)
}

// WithoutScopeGuard marks ctx so reads see rows of every submitter scope.
func WithoutScopeGuard(ctx context.Context) context.Context {
	return appctx.Set(ctx, ContextKeySkipScopeGuard, true)
}

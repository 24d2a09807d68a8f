package claims

import (
	"context"
)

// Request claims are stored in the context by the authentication middleware
// under this key, as a map so the logger can annotate entries without
// importing this package's types.
const ContextKey = "claims"

func NewContext(ctx context.Context, userId, role, institutionId string) context.Context {
	return context.WithValue(ctx, ContextKey, map[string]interface{}{
		"userId":        userId,
		"role":          role,
		"institutionId": institutionId,
	})
}

func get(ctx context.Context, key string) string {
	c, ok := ctx.Value(ContextKey).(map[string]interface{})
	if !ok {
		return ""
	}
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func GetUserId(ctx context.Context) string {
	return get(ctx, "userId")
}

func GetRole(ctx context.Context) string {
	return get(ctx, "role")
}

func GetInstitutionId(ctx context.Context) string {
	return get(ctx, "institutionId")
}

func Is(ctx context.Context, role string) bool {
	return GetRole(ctx) == role
}

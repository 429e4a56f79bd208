package shared

import "context"

type operatorContextKey struct{}

// ContextWithOperator stores the authenticated operator id in context.
func ContextWithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, operatorID)
}

// OperatorFromContext extracts the operator id from context, if present.
func OperatorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(operatorContextKey{}).(string)
	return id
}

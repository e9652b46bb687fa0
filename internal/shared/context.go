package shared

import (
	"context"
	"strings"
)

type actorContextKey struct{}

// ActorHeader carries the acting user identity supplied by the identity collaborator.
const ActorHeader = "X-Actor"

// ContextWithActor stores the acting user identity in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, strings.TrimSpace(actor))
}

// ActorFromContext extracts the acting user identity, "" when absent.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}

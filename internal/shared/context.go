package shared

import "context"

// Actor is the authenticated operating context resolved by the auth layer:
// who is acting, for which company, inside which warehouse.
type Actor struct {
	UserID      int64
	CompanyID   int64
	WarehouseID int64
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}

package shared

import "context"

type actorContextKey struct{}

// Actor identifies who performs an operation. It is carried explicitly in the
// request context rather than read from ambient state, so services stay
// testable and never depend on a process-wide current user.
type Actor struct {
	ID   int64
	Name string
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor; the zero Actor means unauthenticated.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}

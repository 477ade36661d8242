package core

import "context"

type threadNameKeyType struct{}

var threadNameKey threadNameKeyType

// StartThread runs entry in a new goroutine, tagged with name for
// panic-handler reporting. Go has no OS thread-naming syscall worth
// reaching for here, so name travels only as a context.Context value.
// ThreadState.Spawn starts every worker through this helper.
func StartThread(name string, entry func(ctx context.Context)) {
	ctx := context.WithValue(context.Background(), threadNameKey, name)
	go entry(ctx)
}

// ThreadName extracts the name StartThread attached to ctx, if any.
func ThreadName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(threadNameKey).(string)
	return name, ok
}

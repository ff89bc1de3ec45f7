package broken

func Initialize(ctx core.Context {

// Package lifecycle coordinates the startup and shutdown of a process's
// components.
//
// Components are registered while the lifecycle is idle. Start runs their
// start hooks one after another in registration order; shutdown runs their
// shutdown hooks in the reverse order exactly once, no matter how many
// times or from where it is requested. Hooks report completion through a
// callback, so a component may finish on any goroutine.
//
//	lc := lifecycle.New("api", logger)
//	lc.Register(
//		lifecycle.Func("db", db.Open, db.Close),
//		server,
//	)
//	if err := lc.StartAndWait(lifecycle.DefaultConfig()); err != nil {
//		logger.Fatal("startup failed", zap.Error(err))
//	}
//
// A Lifecycle moves through Idle, Starting, Started, ShuttingDown and
// Shutdown. It never goes back, and a new Lifecycle is needed for every run.
package lifecycle

// Package bootstrap wires the alerting, error tracking, audit and health
// components together and owns their lifecycle. Everything is constructed
// explicitly and injected; nothing reaches for package-level state.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := app.Start(ctx); err != nil {
//	    app.Shutdown()
//	    log.Fatal(err)
//	}
//
//	app.WaitForShutdown()
//	app.Shutdown()
package bootstrap

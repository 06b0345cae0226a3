// Package app wires the license subsystem together.
//
// Core builds the store, fingerprint provider, telemetry log and license
// manager from configuration; the CLIs use it for one-shot commands.
// Application adds OpenTelemetry, the websocket hub and the loopback host
// API on top of Core and runs them until interrupted:
//
//	application, err := app.NewApplication(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// Start launches the periodic validation loop, the storage watcher, the
// bridge that pushes status changes to websocket clients, and the HTTP
// server. Stop shuts them down in reverse order and closes the databases.
// Nothing in this package calls os.Exit.
package app

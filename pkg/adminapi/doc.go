// Package adminapi serves a JSON HTTP API for inspecting and administering
// a job queue, plus the Server that runs it with graceful shutdown.
//
// Routes:
//
//	GET  /healthz                 readiness of the app and extra checks
//	GET  /schema                  schema SQL of the connector
//	POST /schema/apply            install the schema
//	GET  /queues                  per-queue job counts
//	GET  /jobs                    list jobs (status, queue, task, lock, queueing_lock)
//	POST /jobs                    defer a job by task name
//	GET  /jobs/{id}               one job
//	GET  /jobs/{id}/events        event log of a job
//	POST /jobs/{id}/cancel        cancel a todo job (?delete=true removes it)
//	POST /jobs/{id}/abort         cancel a todo job or flag a running one
//	POST /jobs/retry-stalled      move stalled running jobs back to todo
//	POST /jobs/delete-old         delete finished jobs older than a threshold
//
// Errors are returned as {"error": "..."}. Queueing lock conflicts map to
// 409, unknown tasks and jobs to 404, and invalid input to 400.
//
// Usage:
//
//	api, err := adminapi.New(app, adminapi.WithHealthchecks(pg.Healthcheck(conn)))
//	if err != nil {
//	    return err
//	}
//	srv := adminapi.NewServerFromConfig(cfg)
//	g.Go(srv.Runner(ctx, api.Routes()))
package adminapi

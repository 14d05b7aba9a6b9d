// Package admin implements the administrative operations on a job queue:
// listing pending jobs, showing a job, clearing queues, cancelling a job and
// enqueueing a test job.
//
// [Service] holds the operations and is shared by the command line and the
// HTTP action API. [NewHandler] exposes the service as action endpoints that
// answer with a {"success": ..., "result": ...} envelope:
//
//	GET  /api/action/job_list?queues=default&queues=emails
//	GET  /api/action/job_show?id=01J...
//	POST /api/action/job_clear   {"queues": ["emails"]}
//	POST /api/action/job_cancel  {"id": "01J..."}
//
// Lookups of unknown jobs fail with [ErrNotFound], which the handler maps to
// a 404 "Not Found Error".
package admin

// Package jobq is a small durable job queue.
//
// Producers put jobs on named FIFO queues; workers take them off in a fixed
// queue order, run the registered task and record the outcome on the job.
// Jobs are stored in a pluggable backend: Redis, Postgres, an embedded
// Badger database or process memory.
//
// # Quick Start
//
//	client, err := jobq.New(redisbackend.New(rdb),
//	    jobq.WithLogger(log),
//	    jobq.WithTasks(job.WithTask[WelcomeArgs](&SendWelcome{})),
//	)
//	if err != nil {
//	    return err
//	}
//
//	j, err := client.Enqueue(ctx, "emails", "send_welcome", WelcomeArgs{UserID: 42},
//	    job.WithTitle("Welcome mail"),
//	)
//
//	w, err := client.NewWorker(worker.WithQueues("emails", jobq.DefaultQueue))
//	if err != nil {
//	    return err
//	}
//	return w.Work(ctx)
//
// # Tasks
//
// A task is any type with a Name method and a Handle method taking a context
// and a JSON-decodable argument struct:
//
//	type SendWelcome struct{ mailer Mailer }
//
//	func (t *SendWelcome) Name() string { return "send_welcome" }
//
//	func (t *SendWelcome) Handle(ctx context.Context, args WelcomeArgs) error {
//	    return t.mailer.Send(ctx, args.UserID)
//	}
//
// # Job Lifecycle
//
// A job is queued when enqueued, running once a worker claims it and
// finished or failed when the task returns. A queued job can be cancelled.
// Failed jobs are not retried.
//
// # Administration
//
// [Client.Admin] lists, shows, clears and cancels jobs. The same operations
// are available from the jobq command and its HTTP action API.
package jobq

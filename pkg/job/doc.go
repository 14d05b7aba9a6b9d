// Package job defines the job record, its lifecycle and the task registry that
// executes job payloads.
//
// A Job is the persistent unit of work. It is created in the queued state,
// claimed by exactly one worker (running) and ends as finished or failed.
// A queued job may also be cancelled before any worker claims it:
//
//	queued ──► running ──► finished
//	   │           └─────► failed
//	   └──► cancelled
//
// # Tasks
//
// The payload of a job names a task and carries its JSON encoded arguments.
// Tasks are plain structs registered with structural typing, no interface
// import required:
//
//	type SendWelcome struct{ mailer Mailer }
//
//	func (t *SendWelcome) Name() string { return "send_welcome" }
//
//	func (t *SendWelcome) Handle(ctx context.Context, p SendWelcomeArgs) error {
//	    return t.mailer.Send(ctx, "welcome", p.Email)
//	}
//
//	tasks := job.NewRegistry(
//	    job.WithTask[SendWelcomeArgs](&SendWelcome{mailer: m}),
//	)
//
// Tasks returning a value use WithResultTask; the value is stored as the
// job's result.
//
// # Building jobs
//
//	j, err := job.New("send_welcome", SendWelcomeArgs{Email: "a@b.c"},
//	    job.WithTitle("Welcome mail"),
//	    job.WithTimeout(30*time.Second),
//	)
package job

// Package redis opens go-redis clients for the Redis queue backend.
//
// [Connect] builds a client from a [Config], which can be filled from the
// environment (REDIS_URL, REDIS_POOL_SIZE, ...) or a YAML file, and retries
// the initial ping with a linear backoff:
//
//	client, err := redis.Connect(ctx, redis.Config{URL: "redis://localhost:6379/0"})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// [Healthcheck] pings the server and is what the Redis queue backend
// reports from Ping.
//
// Errors are joined to one of the sentinels [ErrEmptyConnectionURL],
// [ErrInvalidURL], [ErrConnectionFailed] and [ErrHealthcheckFailed].
package redis

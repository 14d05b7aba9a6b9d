package memory_test

import (
	"testing"

	"github.com/dmitrymomot/jobq/pkg/backend/memory"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/queue/queuetest"
)

func TestBackend(t *testing.T) {
	t.Parallel()

	queuetest.Run(t, func(t *testing.T) queue.Backend {
		return memory.New()
	})
}

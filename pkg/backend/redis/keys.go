package redis

// Key layout, all under the configurable prefix (default "jobq:"):
//
//	{prefix}job:{id}      STRING  JSON encoded job record
//	{prefix}queue:{name}  LIST    pending job ids, head first
//	{prefix}queues        SET     registered queue names

// DefaultKeyPrefix is used when no prefix is configured.
const DefaultKeyPrefix = "jobq:"

func (b *Backend) jobKey(id string) string { return b.prefix + "job:" + id }

func (b *Backend) jobKeyPrefix() string { return b.prefix + "job:" }

func (b *Backend) queueKey(name string) string { return b.prefix + "queue:" + name }

func (b *Backend) queuesKey() string { return b.prefix + "queues" }

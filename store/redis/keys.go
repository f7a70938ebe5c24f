package redis

// Key prefixes for primary entity storage.
const (
	prefixMessage = "done:msg:"
	prefixLog     = "done:log:"
	prefixQueue   = "done:queue:"
)

// Key prefixes for sorted set indexes.
const (
	zMessagesAll      = "done:z:msg:all"
	zMessagesByStatus = "done:z:msg:status:" // + status
	zMessagesByDate   = "done:z:msg:date:"   // + YYYY-MM-DD
	zLogsAll          = "done:z:log:all"
	zLogsByMessage    = "done:z:log:msg:" // + message id
	zQueuePending     = "done:z:queue:pending"
)

// Key prefixes for the stats gauges and historical trend cells.
const (
	statGaugePrefix = "done:stat:gauge:" // + status, or the __total__ sentinel
	statHourPrefix  = "done:stat:hour:"  // + YYYY-MM-DDTHH
	statDayPrefix   = "done:stat:day:"   // + YYYY-MM-DD + ":incoming" or ":sent"
)

const totalGaugeKey = statGaugePrefix + "__total__"

func entityKey(prefix, id string) string {
	return prefix + id
}

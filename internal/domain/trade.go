package domain

// Trade is one row of the append-only trades relation.
type Trade struct {
	Ticker               string
	Exchange             int
	ParticipantTimestamp int64 // nanoseconds since the Unix epoch
	Price                float64
	Size                 int64
	DelT                 *int64
	DelP                 *float64
}

// TradeColumns lists the base columns of the trades relation in output order.
var TradeColumns = []string{
	"ticker", "exchange", "participant_timestamp", "price", "trade_size", "del_t", "del_p",
}

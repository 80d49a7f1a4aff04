package domain

// OpenPosition is the broker-side exposure of one instrument.
// Long and short legs are tracked independently (hedging accounts).
type OpenPosition struct {
	Instrument string
	LongUnits  int64 // >= 0
	ShortUnits int64 // <= 0 on brokers that sign the short leg, absolute otherwise
}

// IsFlat reports whether neither leg holds units.
func (p *OpenPosition) IsFlat() bool {
	return p == nil || (p.LongUnits == 0 && p.ShortUnits == 0)
}

// CloseRequest lists which legs of a position to close entirely.
type CloseRequest struct {
	Long  bool
	Short bool
}

// Empty reports whether the request would close nothing.
func (r CloseRequest) Empty() bool {
	return !r.Long && !r.Short
}

// Payload renders the request in the "<side>Units": "ALL" form.
// Legs that are not closed are omitted, never sent as zero.
func (r CloseRequest) Payload() map[string]string {
	payload := make(map[string]string, 2)
	if r.Long {
		payload["longUnits"] = "ALL"
	}
	if r.Short {
		payload["shortUnits"] = "ALL"
	}
	return payload
}

// CloseRequestFor builds a request closing every non-empty leg of pos.
func CloseRequestFor(pos *OpenPosition) CloseRequest {
	if pos == nil {
		return CloseRequest{}
	}
	return CloseRequest{
		Long:  pos.LongUnits != 0,
		Short: pos.ShortUnits != 0,
	}
}

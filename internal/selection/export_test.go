package selection

var (
	SamplePoint = samplePoint
	ZoneRegion  = zoneRegion
	SeatRegion  = seatRegion
)

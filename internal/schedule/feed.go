package schedule

// Feed holds the raw static tables as read from the GTFS archive. Values
// stay as strings so that LoadSchedule is the single place that validates
// them. Line is the 1-based CSV line number, used in error messages.
type Feed struct {
	Version   string
	Routes    []RouteRow
	Trips     []TripRow
	Stops     []StopRow
	StopTimes []StopTimeRow
}

type RouteRow struct {
	Line      int
	ID        string
	ShortName string
	LongName  string
	Type      string
	Color     string
	TextColor string
}

type TripRow struct {
	Line        int
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	DirectionID string
}

type StopRow struct {
	Line int
	ID   string
	Name string
	Lat  string
	Lon  string
}

type StopTimeRow struct {
	Line         int
	TripID       string
	StopID       string
	Sequence     string
	Arrival      string
	Departure    string
	DistTraveled string
}

package progress

import "ktmtrack/internal/domain"

// Classify marks every station as passed, current or upcoming relative to
// the nearest station, honouring travel direction. Direction 1 runs the
// sequence backwards, so higher indices are behind the vehicle. The
// boarding station is flagged independently of its status; a boarding
// index outside the sequence flags nothing.
func Classify(stations []domain.StationStop, nearest, direction, boarding int) []domain.StationProgress {
	out := make([]domain.StationProgress, len(stations))
	for i := range stations {
		out[i] = domain.StationProgress{
			Station:   stations[i],
			Status:    status(i, nearest, direction),
			Boarding:  i == boarding,
			DeltaKM:   stations[i].DeltaKM,
			DeltaTime: stations[i].DeltaTime,
		}
	}
	return out
}

// ClassifyProgress is Classify under the name used by the report surface.
func ClassifyProgress(stations []domain.StationStop, nearest, direction, boarding int) []domain.StationProgress {
	return Classify(stations, nearest, direction, boarding)
}

func status(i, nearest, direction int) domain.ProgressStatus {
	switch {
	case i == nearest:
		return domain.StatusCurrent
	case direction == 1 && i > nearest, direction != 1 && i < nearest:
		return domain.StatusPassed
	default:
		return domain.StatusUpcoming
	}
}

// Reachable reports whether the vehicle has not yet passed the boarding
// station.
func Reachable(direction, nearest, boarding int) bool {
	if direction == 1 {
		return nearest >= boarding
	}
	return nearest <= boarding
}

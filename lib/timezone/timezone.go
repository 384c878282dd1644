package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
}

// the vault renders catalog dates in its own wall clock, so date
// comparisons have to happen in the site's timezone no matter
// where our servers end up deployed
func Now() time.Time {
	return time.Now().In(Location)
}

// today in the 2006-01-02 form task requests use
func Today() string {
	return Now().Format(time.DateOnly)
}

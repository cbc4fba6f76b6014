package domain

import "fmt"

// ToAstronomicalYear converts a calendar year and era flag into astronomical
// year numbering, where 1 BCE = 0, 2 BCE = -1, 1 CE = 1. Arithmetic on
// AuthorWork.PublicationYear must use this line throughout; conversion back
// to CE/BCE happens only at presentation boundaries.
func ToAstronomicalYear(year int, bce bool) int {
	if bce {
		return 1 - year
	}
	return year
}

// FromAstronomicalYear recovers the calendar year and era flag for display.
func FromAstronomicalYear(astronomical int) (year int, bce bool) {
	if astronomical <= 0 {
		return 1 - astronomical, true
	}
	return astronomical, false
}

// FormatEra renders an astronomical year as a human label, e.g. "347 BCE"
// or "1922 CE".
func FormatEra(astronomical int) string {
	year, bce := FromAstronomicalYear(astronomical)
	if bce {
		return fmt.Sprintf("%d BCE", year)
	}
	return fmt.Sprintf("%d CE", year)
}

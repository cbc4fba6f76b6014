package domain

import "testing"

func TestToAstronomicalYear(t *testing.T) {
	cases := []struct {
		name string
		year int
		bce  bool
		want int
	}{
		{"1 CE", 1, false, 1},
		{"1 BCE", 1, true, 0},
		{"2 BCE", 2, true, -1},
		{"347 BCE (Aristotle's death)", 347, true, -346},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ToAstronomicalYear(c.year, c.bce); got != c.want {
				t.Errorf("ToAstronomicalYear(%d, %v) = %d, want %d", c.year, c.bce, got, c.want)
			}
		})
	}
}

func TestFromAstronomicalYearRoundTrip(t *testing.T) {
	cases := []struct {
		year int
		bce  bool
	}{
		{1, false},
		{1, true},
		{2, true},
		{1922, false},
	}
	for _, c := range cases {
		astro := ToAstronomicalYear(c.year, c.bce)
		gotYear, gotBCE := FromAstronomicalYear(astro)
		if gotYear != c.year || gotBCE != c.bce {
			t.Errorf("round trip of (%d, bce=%v) via astro=%d gave (%d, bce=%v)", c.year, c.bce, astro, gotYear, gotBCE)
		}
	}
}

func TestFormatEra(t *testing.T) {
	if got := FormatEra(-346); got != "347 BCE" {
		t.Errorf("FormatEra(-346) = %q, want %q", got, "347 BCE")
	}
	if got := FormatEra(1922); got != "1922 CE" {
		t.Errorf("FormatEra(1922) = %q, want %q", got, "1922 CE")
	}
}

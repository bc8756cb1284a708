package calendar

import (
	"fmt"
	"time"

	"newsintel/internal/core"
)

// Fixture is a season's schedule as dates in the calendar's timezone.
type Fixture struct {
	Year   int
	Name   string
	Rounds []FixtureRound
}

// FixtureRound is one round: first and last day, and the lockout time.
type FixtureRound struct {
	Number  int
	Name    string
	Start   string // 2006-01-02
	End     string
	Lockout string // 2006-01-02 15:04, optional
	Bye     bool
	Finals  bool
}

func (fr FixtureRound) round(seasonID string, loc *time.Location) (*core.Round, error) {
	start, err := time.ParseInLocation(dateLayout, fr.Start, loc)
	if err != nil {
		return nil, fmt.Errorf("round %d start: %w", fr.Number, err)
	}
	end, err := time.ParseInLocation(dateLayout, fr.End, loc)
	if err != nil {
		return nil, fmt.Errorf("round %d end: %w", fr.Number, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("round %d ends before it starts", fr.Number)
	}
	r := &core.Round{
		SeasonID:  seasonID,
		Number:    fr.Number,
		Name:      fr.Name,
		StartDate: start,
		EndDate:   end,
		IsBye:     fr.Bye,
		IsFinals:  fr.Finals,
	}
	if fr.Lockout != "" {
		lockout, err := time.ParseInLocation(lockoutLayout, fr.Lockout, loc)
		if err != nil {
			return nil, fmt.Errorf("round %d lockout: %w", fr.Number, err)
		}
		r.Lockout = &lockout
	}
	return r, nil
}

// AFL2026 is the 2026 premiership season, home-and-away rounds then finals.
var AFL2026 = Fixture{
	Year: 2026,
	Name: "2026 AFL Premiership Season",
	Rounds: []FixtureRound{
		{Number: 1, Name: "Round 1", Start: "2026-03-12", End: "2026-03-15", Lockout: "2026-03-12 19:25"},
		{Number: 2, Name: "Round 2", Start: "2026-03-19", End: "2026-03-22", Lockout: "2026-03-19 19:25"},
		{Number: 3, Name: "Round 3", Start: "2026-03-26", End: "2026-03-29", Lockout: "2026-03-26 19:25"},
		{Number: 4, Name: "Round 4", Start: "2026-04-02", End: "2026-04-06", Lockout: "2026-04-02 19:25"},
		{Number: 5, Name: "Round 5", Start: "2026-04-09", End: "2026-04-13", Lockout: "2026-04-09 19:25"},
		{Number: 6, Name: "Round 6", Start: "2026-04-16", End: "2026-04-20", Lockout: "2026-04-16 19:25"},
		{Number: 7, Name: "Round 7", Start: "2026-04-23", End: "2026-04-27", Lockout: "2026-04-23 19:25"},
		{Number: 8, Name: "Round 8", Start: "2026-04-30", End: "2026-05-04", Lockout: "2026-04-30 19:25"},
		{Number: 9, Name: "Round 9", Start: "2026-05-07", End: "2026-05-11", Lockout: "2026-05-07 19:25"},
		{Number: 10, Name: "Round 10", Start: "2026-05-14", End: "2026-05-18", Lockout: "2026-05-14 19:25"},
		{Number: 11, Name: "Round 11", Start: "2026-05-21", End: "2026-05-25", Lockout: "2026-05-21 19:25"},
		{Number: 12, Name: "Round 12", Start: "2026-05-28", End: "2026-06-01", Lockout: "2026-05-28 19:25", Bye: true},
		{Number: 13, Name: "Round 13", Start: "2026-06-04", End: "2026-06-08", Lockout: "2026-06-04 19:25", Bye: true},
		{Number: 14, Name: "Round 14", Start: "2026-06-11", End: "2026-06-15", Lockout: "2026-06-11 19:25", Bye: true},
		{Number: 15, Name: "Round 15", Start: "2026-06-18", End: "2026-06-22", Lockout: "2026-06-18 19:25"},
		{Number: 16, Name: "Round 16", Start: "2026-06-25", End: "2026-06-29", Lockout: "2026-06-25 19:25"},
		{Number: 17, Name: "Round 17", Start: "2026-07-02", End: "2026-07-06", Lockout: "2026-07-02 19:25"},
		{Number: 18, Name: "Round 18", Start: "2026-07-09", End: "2026-07-13", Lockout: "2026-07-09 19:25"},
		{Number: 19, Name: "Round 19", Start: "2026-07-16", End: "2026-07-20", Lockout: "2026-07-16 19:25"},
		{Number: 20, Name: "Round 20", Start: "2026-07-23", End: "2026-07-27", Lockout: "2026-07-23 19:25"},
		{Number: 21, Name: "Round 21", Start: "2026-07-30", End: "2026-08-03", Lockout: "2026-07-30 19:25"},
		{Number: 22, Name: "Round 22", Start: "2026-08-06", End: "2026-08-10", Lockout: "2026-08-06 19:25"},
		{Number: 23, Name: "Round 23", Start: "2026-08-13", End: "2026-08-17", Lockout: "2026-08-13 19:25"},
		{Number: 24, Name: "Round 24", Start: "2026-08-20", End: "2026-08-24", Lockout: "2026-08-20 19:25"},
		{Number: 25, Name: "Qualifying & Elimination Finals", Start: "2026-08-27", End: "2026-08-30", Lockout: "2026-08-27 19:25", Finals: true},
		{Number: 26, Name: "Semi Finals", Start: "2026-09-03", End: "2026-09-06", Lockout: "2026-09-03 19:25", Finals: true},
		{Number: 27, Name: "Preliminary Finals", Start: "2026-09-10", End: "2026-09-13", Lockout: "2026-09-10 19:25", Finals: true},
		{Number: 28, Name: "Grand Final", Start: "2026-09-26", End: "2026-09-26", Lockout: "2026-09-26 14:30", Finals: true},
	},
}

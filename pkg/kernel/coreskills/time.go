package coreskills

import (
	"context"
	"strconv"
	"time"

	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

// TimeSkillName is the skill name of the time functions.
const TimeSkillName = "time"

// Time returns the time functions, reading the clock from now. A nil clock
// uses time.Now. All values are in UTC.
func Time(now func() time.Time) []skill.Function {
	if now == nil {
		now = time.Now
	}
	fn := func(name, desc string, format func(time.Time) string) skill.Function {
		return skill.NewTextFunction(skill.View{
			Name:        name,
			SkillName:   TimeSkillName,
			Description: desc,
		}, func(context.Context, string) (string, error) { return format(now().UTC()), nil })
	}
	return []skill.Function{
		fn("Now", "Get the current date and time in RFC 3339 format.", func(t time.Time) string { return t.Format(time.RFC3339) }),
		fn("Date", "Get the current date as YYYY-MM-DD.", func(t time.Time) string { return t.Format(time.DateOnly) }),
		fn("Year", "Get the current year.", func(t time.Time) string { return strconv.Itoa(t.Year()) }),
	}
}

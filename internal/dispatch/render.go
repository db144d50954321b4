package dispatch

import (
	"fmt"
	"html"
	"strings"

	"classwatch/internal/classes"
)

// RenderAvailable builds the HTML notification body for one open spot. The
// end time is derived from the class duration; a zero duration renders the
// start time alone.
func RenderAvailable(inst classes.ClassInstance) string {
	var b strings.Builder
	b.WriteString("<b>Free spot found for a class!</b>\n\n")
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(inst.ClassName))
	fmt.Fprintf(&b, "Gym: %s\n", html.EscapeString(inst.ClubName))
	if inst.TrainerName != "" {
		fmt.Fprintf(&b, "Trainer: %s\n", html.EscapeString(inst.TrainerName))
	}
	if inst.ClassType != "" {
		fmt.Fprintf(&b, "Type: %s\n", html.EscapeString(inst.ClassType))
	}
	fmt.Fprintf(&b, "Day: %s\n", inst.Start.Format("Monday, 02.01.2006"))
	if inst.Duration > 0 {
		fmt.Fprintf(&b, "Time: %s - %s\n",
			inst.Start.Format("15:04"), inst.Start.Add(inst.Duration).Format("15:04"))
	} else {
		fmt.Fprintf(&b, "Time: %s\n", inst.Start.Format("15:04"))
	}
	fmt.Fprintf(&b, "Available spots: %d", inst.FreeSpots)
	return b.String()
}

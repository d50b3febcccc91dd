// Package notify renders diff records into messenger-ready text and decides
// whether a user gets them. Formatting is HTML in the shape the delivery
// side expects; gating happens in the dispatcher.
package notify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/remoodle/one/internal/diff"
	"github.com/remoodle/one/internal/util"
)

var trailingZeros = regexp.MustCompile(`\.0+$`)

// formatGradeValue renders one side of a grade transition. Absent values
// show as N/A; the raw value rides along in parentheses except for
// attendance items and full marks, where it adds nothing.
func formatGradeValue(value diff.GradeValue, displayRaw bool) string {
	if value.Raw == nil {
		return "N/A"
	}

	out := trailingZeros.ReplaceAllString(value.Formatted, "") + "%"
	if displayRaw && *value.Raw != 0 && value.Formatted != "100.00" {
		raw := trailingZeros.ReplaceAllString(strconv.FormatFloat(*value.Raw, 'f', 2, 64), "")
		out += " (" + raw + ")"
	}
	return out
}

// FormatGradeChanges renders the aggregated grade diff of one sync round,
// one course section per changed course.
func FormatGradeChanges(data []diff.CourseGradeChanges) string {
	var b strings.Builder
	b.WriteString("Updated grades:\n")

	for _, course := range data {
		fmt.Fprintf(&b, "\n📘 %s:\n", course.CourseName)

		for _, change := range course.Changes {
			displayRaw := change.Name != "Attendance"

			fmt.Fprintf(&b, "  • %s: <b>%s → %s</b>",
				change.Name,
				formatGradeValue(change.Previous, displayRaw),
				formatGradeValue(change.Updated, displayRaw),
			)
			if change.Max != 100 {
				fmt.Fprintf(&b, " (out of %s)", trailingZeros.ReplaceAllString(strconv.FormatFloat(change.Max, 'f', 2, 64), ""))
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// FormatCourseChanges renders the course-list diff grouped into fixed
// sections. An empty diff renders to the empty string.
func FormatCourseChanges(data diff.CourseChanges) string {
	if len(data.Changes) == 0 {
		return ""
	}

	sections := []struct {
		changeType diff.CourseChangeType
		title      string
		icon       string
	}{
		{diff.CourseAdded, "New courses", "✅"},
		{diff.CourseClassificationChanged, "Changed status", "📋"},
		{diff.CourseDeleted, "Removed courses", "🗑️"},
	}

	var lines []string
	for _, section := range sections {
		var names []string
		for _, change := range data.Changes {
			if change.Type == section.changeType {
				names = append(names, change.CourseName)
			}
		}
		if len(names) == 0 {
			continue
		}
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, fmt.Sprintf("%s %s:", section.icon, section.title))
		for _, name := range names {
			lines = append(lines, "- "+name)
		}
	}

	return strings.Join(lines, "\n")
}

// FormatDeadlineReminders renders fired deadline reminders grouped by
// course, with the remaining time relative to now.
func FormatDeadlineReminders(now time.Time, data []diff.CourseDeadlineReminders) string {
	var b strings.Builder
	b.WriteString("🔔 Upcoming deadlines 🔔\n\n")

	for _, course := range data {
		fmt.Fprintf(&b, "🗓 %s\n", course.CourseName)

		for _, reminder := range course.Reminders {
			due := time.Unix(reminder.EventTimeStart, 0)
			fmt.Fprintf(&b, "  • %s: <b>%s</b>, %s\n",
				reminder.EventName, util.TimeLeft(now, due), util.FormatDate(due))
		}
		b.WriteString("\n")
	}

	return b.String()
}

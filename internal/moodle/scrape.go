package moodle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	apperrors "github.com/remoodle/one/internal/errors"
)

// Grade rows skipped entirely: technical register containers the students
// never see in the portal UI either.
var ignoredGradeNames = map[string]struct{}{
	"Register(not to edit)": {},
}

type gradeBaseData struct {
	name       string // override, empty keeps the scraped name
	itemType   string
	itemModule *string
	idNumber   string
}

var attendanceModule = "attendance"

// gradeNameBaseData maps well-known register rows to stable item metadata so
// the diff engine can key on idnumber instead of display names.
var gradeNameBaseData = map[string]gradeBaseData{
	"Register Midterm":            {itemType: "manual", idNumber: "register_midterm"},
	"Register Endterm":            {itemType: "manual", idNumber: "register_endterm"},
	"Register Term":               {itemType: "manual", idNumber: "register_term"},
	"Register Final":              {itemType: "manual", idNumber: "register_final"},
	"Register(not to edit) total": {name: "Register Total", itemType: "category", idNumber: "register"},
	"Attendance":                  {itemType: "mod", itemModule: &attendanceModule, idNumber: "register_attendance"},
}

var assignModule = "assign"

// Grades scrapes the course grade report. Malformed rows are skipped, not
// fatal: the portal renders spacer and aggregate rows interleaved with real
// grade items.
func (c *Client) Grades(ctx context.Context, courseID int64) ([]Grade, error) {
	if c.userID == 0 {
		return nil, apperrors.Auth("no portal user id available, please authenticate first")
	}

	target := c.baseURL.JoinPath("/course/user.php")
	q := target.Query()
	q.Set("mode", "grade")
	q.Set("id", strconv.FormatInt(courseID, 10))
	q.Set("user", strconv.FormatInt(c.userID, 10))
	target.RawQuery = q.Encode()

	doc, err := c.fetchDocument(ctx, target.String())
	if err != nil {
		return nil, err
	}

	rows := doc.Find("table.generaltable tr[data-hidden='false']")
	if rows.Length() <= 2 {
		return nil, nil
	}
	// First row is the header, last the course total footer.
	rows = rows.Slice(1, rows.Length()-1)

	grades := make([]Grade, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		if row.HasClass("spacer") {
			return
		}

		header := row.Find(".gradeitemheader").First()
		if header.Length() == 0 {
			return
		}
		name := strings.TrimSpace(header.Text())
		if _, ignored := ignoredGradeNames[name]; ignored {
			return
		}

		idAttr, _ := row.Find("th.column-itemname").First().Attr("id")
		gradeID, err := parseRowID(idAttr)
		if err != nil {
			return
		}

		var itemInstance *int64
		if href, ok := header.Attr("href"); ok {
			if id, err := parseURLID(href); err == nil {
				itemInstance = &id
			}
		}

		formatted := strings.TrimSpace(strings.NewReplacer(" %", "", "-", "").Replace(
			row.Find("td.column-percentage").First().Text()))

		var raw *float64
		if v, err := strconv.ParseFloat(strings.TrimSpace(row.Find("td.column-grade").First().Text()), 64); err == nil {
			raw = &v
		}

		min, max := parseGradeRange(row.Find("td.column-range").First().Text())

		base, known := gradeNameBaseData[name]
		if !known {
			base = gradeBaseData{itemType: "mod", itemModule: &assignModule}
		}
		if base.name != "" {
			name = base.name
		}

		grades = append(grades, Grade{
			ID:             gradeID,
			ItemName:       name,
			ItemType:       base.itemType,
			ItemModule:     base.itemModule,
			ItemInstance:   itemInstance,
			IDNumber:       base.idNumber,
			GradeRaw:       raw,
			GradeFormatted: formatted,
			GradeMin:       min,
			GradeMax:       max,
		})
	})

	return grades, nil
}

// Assignments fetches the course overview fragment and scrapes the
// assignment table out of the returned HTML.
func (c *Client) Assignments(ctx context.Context, courseID int64) ([]Assignment, error) {
	data, rerr, err := c.Call(ctx, "core_get_fragment", map[string]any{
		"component": "core_course",
		"callback":  "course_overview",
		"contextid": 1,
		"args": []map[string]string{
			{"name": "courseid", "value": strconv.FormatInt(courseID, 10)},
			{"name": "modname", "value": "assign"},
		},
	})
	if err != nil {
		return nil, err
	}
	if rerr != nil {
		return nil, rerr
	}

	var fragment struct {
		HTML string `json:"html"`
	}
	if err := json.Unmarshal(data, &fragment); err != nil {
		return nil, apperrors.Transport("decode course overview fragment", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment.HTML))
	if err != nil {
		return nil, apperrors.Transport("parse course overview fragment", err)
	}

	var assignments []Assignment
	doc.Find("table.course-overview-table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cmAttr, _ := row.Attr("data-mdl-overview-cmid")
		cmID, err := strconv.ParseInt(strings.TrimSpace(cmAttr), 10, 64)
		if err != nil || cmID == 0 {
			return
		}

		nameCell := row.Find(`td[data-mdl-overview-item="name"]`)
		href, _ := nameCell.Find(".fw-bold .activityname").First().Attr("href")
		assignmentID, err := parseURLID(href)
		if err != nil {
			return
		}
		name, _ := nameCell.Attr("data-mdl-overview-value")

		var dueDate int64
		if v, ok := row.Find(`td[data-mdl-overview-item="duedate"]`).Attr("data-mdl-overview-value"); ok {
			if ts, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				dueDate = ts
			}
		}

		var grade *float64
		if v, ok := row.Find(`td[data-mdl-overview-item="Grade"]`).Attr("data-mdl-overview-value"); ok {
			cleaned := strings.ReplaceAll(strings.TrimSpace(v), "-", "")
			if raw, err := strconv.ParseFloat(cleaned, 64); err == nil {
				grade = &raw
			}
		}

		assignments = append(assignments, Assignment{
			ID:      assignmentID,
			CmID:    cmID,
			Course:  courseID,
			Name:    strings.TrimSpace(name),
			DueDate: dueDate,
			Grade:   grade,
		})
	})

	return assignments, nil
}

// StudentInfo scrapes the authenticated student's profile page. Used once at
// account-link time to confirm the session belongs to the expected student.
func (c *Client) StudentInfo(ctx context.Context) (StudentInfo, error) {
	doc, err := c.fetchDocument(ctx, c.baseURL.JoinPath(profilePath).String())
	if err != nil {
		return StudentInfo{}, err
	}

	fullName := strings.TrimSpace(doc.Find("h1").First().Text())

	mailto, _ := doc.Find("a[href^='mailto']").First().Attr("href")
	email, err := url.QueryUnescape(mailto)
	if err != nil {
		email = mailto
	}
	email = strings.TrimPrefix(email, "mailto:")

	cfg, err := parsePageConfig(doc)
	if err != nil {
		return StudentInfo{}, err
	}

	return StudentInfo{FullName: fullName, Username: email, UserID: cfg.UserID}, nil
}

func (c *Client) fetchDocument(ctx context.Context, target string) (*goquery.Document, error) {
	if c.sessionCookie == "" {
		return nil, apperrors.Auth("no session available, please authenticate first")
	}

	headers := http.Header{}
	headers.Set("Cookie", "MoodleSession="+url.QueryEscape(c.sessionCookie))

	resp, err := c.get(ctx, target, headers)
	if err != nil {
		return nil, apperrors.Transport("fetch portal page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Transport(fmt.Sprintf("fetch portal page: HTTP %d", resp.StatusCode), nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, apperrors.Transport("parse portal page", err)
	}
	return doc, nil
}

// parseRowID extracts the numeric grade id from a header cell id attribute
// shaped like "row_123_4".
func parseRowID(attr string) (int64, error) {
	parts := strings.SplitN(attr, "_", 3)
	if len(parts) < 2 {
		return 0, fmt.Errorf("malformed row id %q", attr)
	}
	return strconv.ParseInt(parts[1], 10, 64)
}

// parseURLID extracts the trailing "id=" query value from an activity link.
func parseURLID(href string) (int64, error) {
	parts := strings.SplitN(href, "id=", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("no id in %q", href)
	}
	return strconv.ParseInt(parts[1], 10, 64)
}

// parseGradeRange splits the "0–100" range column into its bounds. The portal
// uses an en dash.
func parseGradeRange(text string) (min, max float64) {
	parts := strings.SplitN(strings.TrimSpace(text), "–", 2)
	if len(parts) > 0 {
		min, _ = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	}
	if len(parts) > 1 {
		max, _ = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	}
	return min, max
}

package moodle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gradeReportHTML = `<html><body><table class="generaltable">
<tr data-hidden="false"><th>Grade item</th><th>Grade</th></tr>
<tr data-hidden="false">
  <th class="column-itemname" id="row_101_1"><a class="gradeitemheader" href="https://portal.test/mod/assign/view.php?id=555">Assignment 1</a></th>
  <td class="column-grade">85.00</td>
  <td class="column-range">0&ndash;100</td>
  <td class="column-percentage">85.00 %</td>
</tr>
<tr data-hidden="false" class="spacer"><td></td></tr>
<tr data-hidden="false">
  <th class="column-itemname" id="row_102_1"><span class="gradeitemheader">Register(not to edit)</span></th>
  <td class="column-grade">-</td>
</tr>
<tr data-hidden="false">
  <th class="column-itemname" id="row_103_1"><span class="gradeitemheader">Register Midterm</span></th>
  <td class="column-grade">-</td>
  <td class="column-range">0&ndash;100</td>
  <td class="column-percentage">-</td>
</tr>
<tr data-hidden="false">
  <th class="column-itemname" id="row_104_1"><span class="gradeitemheader">Register(not to edit) total</span></th>
  <td class="column-grade">72.50</td>
  <td class="column-range">0&ndash;100</td>
  <td class="column-percentage">72.50 %</td>
</tr>
<tr data-hidden="false">
  <th class="column-itemname"><span class="gradeitemheader">No id row</span></th>
  <td class="column-grade">10.00</td>
</tr>
<tr data-hidden="false"><th>Course total</th><td>80.00</td></tr>
</table></body></html>`

func TestGrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/course/user.php", r.URL.Path)
		require.Equal(t, "grade", r.URL.Query().Get("mode"))
		require.Equal(t, "10", r.URL.Query().Get("id"))
		require.Equal(t, "42", r.URL.Query().Get("user"))
		fmt.Fprint(w, gradeReportHTML)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, WithSession(42, "cookie1", "key1"))
	require.NoError(t, err)

	grades, err := client.Grades(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, grades, 3)

	assignment := grades[0]
	assert.EqualValues(t, 101, assignment.ID)
	assert.Equal(t, "Assignment 1", assignment.ItemName)
	assert.Equal(t, "mod", assignment.ItemType)
	require.NotNil(t, assignment.ItemModule)
	assert.Equal(t, "assign", *assignment.ItemModule)
	require.NotNil(t, assignment.ItemInstance)
	assert.EqualValues(t, 555, *assignment.ItemInstance)
	require.NotNil(t, assignment.GradeRaw)
	assert.Equal(t, 85.0, *assignment.GradeRaw)
	assert.Equal(t, "85.00", assignment.GradeFormatted)
	assert.Equal(t, 0.0, assignment.GradeMin)
	assert.Equal(t, 100.0, assignment.GradeMax)

	midterm := grades[1]
	assert.EqualValues(t, 103, midterm.ID)
	assert.Equal(t, "Register Midterm", midterm.ItemName)
	assert.Equal(t, "manual", midterm.ItemType)
	assert.Nil(t, midterm.ItemModule)
	assert.Equal(t, "register_midterm", midterm.IDNumber)
	assert.Nil(t, midterm.GradeRaw)
	assert.Equal(t, "", midterm.GradeFormatted)

	total := grades[2]
	assert.EqualValues(t, 104, total.ID)
	assert.Equal(t, "Register Total", total.ItemName)
	assert.Equal(t, "category", total.ItemType)
	assert.Equal(t, "register", total.IDNumber)
}

func TestGradesEmptyTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><table class="generaltable"></table></body></html>`)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, WithSession(42, "cookie1", "key1"))
	require.NoError(t, err)

	grades, err := client.Grades(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, grades)
}

func TestGradesRequiresUserID(t *testing.T) {
	client, err := NewClient("http://portal.test", WithSession(0, "cookie1", "key1"))
	require.NoError(t, err)

	_, err = client.Grades(context.Background(), 10)
	require.Error(t, err)
}

const assignmentFragmentHTML = `<table class="course-overview-table"><tbody>
<tr data-mdl-overview-cmid="9001">
  <td data-mdl-overview-item="name" data-mdl-overview-value="Final Project">
    <span class="fw-bold"><a class="activityname" href="https://portal.test/mod/assign/view.php?id=777">Final Project</a></span>
  </td>
  <td data-mdl-overview-item="duedate" data-mdl-overview-value="1726000000">in 3 days</td>
  <td data-mdl-overview-item="Grade" data-mdl-overview-value="90.5">90.5</td>
</tr>
<tr>
  <td data-mdl-overview-item="name" data-mdl-overview-value="No cmid row"></td>
</tr>
<tr data-mdl-overview-cmid="9002">
  <td data-mdl-overview-item="name" data-mdl-overview-value="No link row"><span class="fw-bold"></span></td>
</tr>
<tr data-mdl-overview-cmid="9003">
  <td data-mdl-overview-item="name" data-mdl-overview-value="Ungraded">
    <span class="fw-bold"><a class="activityname" href="https://portal.test/mod/assign/view.php?id=778">Ungraded</a></span>
  </td>
  <td data-mdl-overview-item="duedate" data-mdl-overview-value="">No due date</td>
  <td data-mdl-overview-item="Grade" data-mdl-overview-value="-">-</td>
</tr>
</tbody></table>`

func TestAssignments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, ajaxPath, r.URL.Path)
		body, _ := json.Marshal(map[string]string{"html": assignmentFragmentHTML})
		writeAjax(w, fmt.Sprintf(`[{"error":false,"data":%s}]`, body))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, WithSession(42, "cookie1", "key1"))
	require.NoError(t, err)

	assignments, err := client.Assignments(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, assignments, 2)

	final := assignments[0]
	assert.EqualValues(t, 777, final.ID)
	assert.EqualValues(t, 9001, final.CmID)
	assert.EqualValues(t, 10, final.Course)
	assert.Equal(t, "Final Project", final.Name)
	assert.EqualValues(t, 1726000000, final.DueDate)
	require.NotNil(t, final.Grade)
	assert.Equal(t, 90.5, *final.Grade)

	ungraded := assignments[1]
	assert.EqualValues(t, 778, ungraded.ID)
	assert.Zero(t, ungraded.DueDate)
	assert.Nil(t, ungraded.Grade)
}

func TestStudentInfo(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, profilePath, r.URL.Path)
		fmt.Fprintf(w, `<html><head><script>var M = {"wwwroot":%q,"sesskey":"key1","userId":42};</script></head>
<body><h1> Jan Novak </h1><a href="mailto:jan.novak%%40uni.test">email</a></body></html>`, server.URL)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, WithSession(42, "cookie1", "key1"))
	require.NoError(t, err)

	info, err := client.StudentInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Jan Novak", info.FullName)
	assert.Equal(t, "jan.novak@uni.test", info.Username)
	assert.EqualValues(t, 42, info.UserID)
}

func TestParseGradeRange(t *testing.T) {
	min, max := parseGradeRange("0–100")
	assert.Equal(t, 0.0, min)
	assert.Equal(t, 100.0, max)

	min, max = parseGradeRange("")
	assert.Zero(t, min)
	assert.Zero(t, max)
}

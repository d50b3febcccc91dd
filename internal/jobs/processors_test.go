package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoodle/one/internal/model"
	"github.com/remoodle/one/internal/moodle"
	"github.com/remoodle/one/internal/notify"
	"github.com/remoodle/one/internal/queue"
	"github.com/remoodle/one/internal/repository"
)

type fakeUsers struct {
	repository.UserRepository
	users     map[string]*model.User
	activeIDs []string
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) ActiveUserIDs(_ context.Context) ([]string, error) {
	return f.activeIDs, nil
}

type fakeEvents struct {
	repository.EventRepository
	events []model.Event
}

func (f *fakeEvents) FindByUser(_ context.Context, _ string) ([]model.Event, error) {
	return f.events, nil
}

type fakeReminders struct {
	repository.ReminderRepository
	existing []model.Reminder
	created  []model.CreateReminderParams
}

func (f *fakeReminders) FindByUser(_ context.Context, _ string) ([]model.Reminder, error) {
	return f.existing, nil
}

func (f *fakeReminders) CreateMany(_ context.Context, params []model.CreateReminderParams) ([]model.Reminder, error) {
	f.created = append(f.created, params...)
	out := make([]model.Reminder, len(params))
	for i, p := range params {
		out[i] = model.Reminder{ID: fmt.Sprintf("r-%d", i), UserID: p.UserID, EventID: p.EventID, TriggeredAt: p.TriggeredAt}
	}
	return out, nil
}

func testUser(telegramID *int64) *model.User {
	return &model.User{
		ID:         "user-1",
		TelegramID: telegramID,
		Settings:   model.DefaultSettings(),
	}
}

func jobWith(t *testing.T, name JobName, payload any) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "job-1", Name: string(name), Payload: raw}
}

func TestScheduleTargetsNamedUser(t *testing.T) {
	p := &Processors{users: &fakeUsers{activeIDs: []string{"a", "b"}}}

	ids, err := p.scheduleTargets(context.Background(), jobWith(t, JobSessionSchedule, SchedulePayload{UserID: "only"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, ids)
}

func TestScheduleTargetsAllActive(t *testing.T) {
	p := &Processors{users: &fakeUsers{activeIDs: []string{"a", "b"}}}

	ids, err := p.scheduleTargets(context.Background(), &queue.Job{ID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestDecodePayloadGarbage(t *testing.T) {
	var payload UserPayload
	err := decodePayload(&queue.Job{Payload: json.RawMessage(`{`)}, &payload)
	require.Error(t, err)
}

func TestRemindersCheckSuppressedWithoutMessengerLink(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	due := now.Add(2 * time.Hour)

	user := testUser(nil)
	user.Settings.Notifications.DeadlineReminders = model.NotificationOn

	reminders := &fakeReminders{}
	p := &Processors{
		users: &fakeUsers{users: map[string]*model.User{"user-1": user}},
		events: &fakeEvents{events: []model.Event{{
			ID:     "evt-1",
			UserID: "user-1",
			Data:   model.EventData(moodle.Event{ID: 1, Name: "Quiz is due", TimeStart: due.Unix()}),
		}}},
		reminders: reminders,
		now:       func() time.Time { return now },
	}

	result, err := p.handleRemindersCheck(context.Background(), jobWith(t, JobRemindersCheck, UserPayload{UserID: "user-1"}))
	require.NoError(t, err)
	assert.Nil(t, result)
	// Reminders are only persisted when a notification goes out.
	assert.Empty(t, reminders.created)
}

func TestRemindersCheckNoEvents(t *testing.T) {
	p := &Processors{
		users:     &fakeUsers{users: map[string]*model.User{"user-1": testUser(nil)}},
		events:    &fakeEvents{},
		reminders: &fakeReminders{},
		now:       time.Now,
	}

	result, err := p.handleRemindersCheck(context.Background(), jobWith(t, JobRemindersCheck, UserPayload{UserID: "user-1"}))
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestTelegramSendDelivers(t *testing.T) {
	var gotChatID int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChatID int64 `json:"chat_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotChatID = body.ChatID
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	telegramID := int64(777)
	p := &Processors{
		users:    &fakeUsers{users: map[string]*model.User{"user-1": testUser(&telegramID)}},
		telegram: notify.NewTelegramSender("token", notify.WithTelegramBaseURL(server.URL)),
	}

	_, err := p.handleTelegramSend(context.Background(),
		jobWith(t, JobTelegramSend, notify.MessagePayload{UserID: "user-1", Message: "hello"}))
	require.NoError(t, err)
	assert.EqualValues(t, 777, gotChatID)
}

func TestTelegramSendRequiresLink(t *testing.T) {
	p := &Processors{
		users: &fakeUsers{users: map[string]*model.User{"user-1": testUser(nil)}},
	}

	_, err := p.handleTelegramSend(context.Background(),
		jobWith(t, JobTelegramSend, notify.MessagePayload{UserID: "user-1", Message: "hello"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
}

func TestTelegramSendUnknownUser(t *testing.T) {
	p := &Processors{users: &fakeUsers{}}

	_, err := p.handleTelegramSend(context.Background(),
		jobWith(t, JobTelegramSend, notify.MessagePayload{UserID: "ghost", Message: "hello"}))
	require.Error(t, err)
}

package mailhandler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OliverSchlueter/mail-submit/internal/mails"
	"github.com/OliverSchlueter/mail-submit/internal/mails/database/fake"
	"github.com/OliverSchlueter/mail-submit/internal/smtp"
	"github.com/OliverSchlueter/mail-submit/internal/smtptest"
	"github.com/OliverSchlueter/mail-submit/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*httptest.Server, *mails.Store) {
	t.Helper()

	ms := mails.NewStore(mails.Configuration{DB: fake.NewDB()})
	srv := smtptest.NewServer(smtptest.Configuration{
		Mails:            ms,
		RejectRecipients: []string{"nobody@localhost"},
	})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })

	host, port := srv.Addr()
	submitter := submission.NewSubmitter(submission.Configuration{
		Session: smtp.Configuration{Host: host, Port: port},
	})

	mux := http.NewServeMux()
	New(ms, submitter).Register("/api/v1", mux)
	api := httptest.NewServer(mux)
	t.Cleanup(api.Close)
	return api, ms
}

func TestCreateSubmission(t *testing.T) {
	api, ms := newTestAPI(t)

	req, err := json.Marshal(CreateSubmissionReq{
		From:    "oliver@localhost",
		To:      []string{"peter@localhost", "nobody@localhost"},
		Subject: "Hello",
		Body:    "Hello world",
	})
	require.NoError(t, err)

	resp, err := http.Post(api.URL+"/api/v1/submissions", "application/json", bytes.NewReader(req))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created CreateSubmissionResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, []string{"nobody@localhost"}, created.FailedRecipients)

	stored, err := ms.GetMailsFor("peter@localhost")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestCreateSubmissionWithoutRecipients(t *testing.T) {
	api, _ := newTestAPI(t)

	resp, err := http.Post(api.URL+"/api/v1/submissions", "application/json", bytes.NewReader([]byte(`{"from":"oliver@localhost"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetMails(t *testing.T) {
	api, ms := newTestAPI(t)

	m, err := ms.CreateMail(mails.Mail{From: "oliver@localhost", To: []string{"peter@localhost"}, Data: "hi\r\n"})
	require.NoError(t, err)

	resp, err := http.Get(api.URL + "/api/v1/mails?to=peter@localhost")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []mails.Mail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, m.ID, list[0].ID)

	resp2, err := http.Get(api.URL + "/api/v1/mails/" + m.ID)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(api.URL + "/api/v1/mails/missing")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	api, _ := newTestAPI(t)

	resp, err := http.Post(api.URL+"/api/v1/mails", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

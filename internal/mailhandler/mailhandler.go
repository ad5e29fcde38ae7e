// Package mailhandler exposes the mails captured by the test server and a
// submission endpoint over HTTP.
package mailhandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/OliverSchlueter/goutils/problems"
	"github.com/OliverSchlueter/mail-submit/internal/mail"
	"github.com/OliverSchlueter/mail-submit/internal/mails"
	"github.com/OliverSchlueter/mail-submit/internal/submission"
)

type Handler struct {
	mailStore *mails.Store
	submitter *submission.Submitter
}

func New(mailStore *mails.Store, submitter *submission.Submitter) *Handler {
	return &Handler{
		mailStore: mailStore,
		submitter: submitter,
	}
}

func (h *Handler) Register(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"/mails", h.handleMails)
	mux.HandleFunc(prefix+"/mails/{id}", h.handleMail)
	mux.HandleFunc(prefix+"/submissions", h.handleSubmissions)
}

func (h *Handler) handleMails(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getMails(w, r)
	default:
		problems.MethodNotAllowed(r.Method, []string{http.MethodGet}).WriteToHTTP(w)
	}
}

func (h *Handler) getMails(w http.ResponseWriter, r *http.Request) {
	var (
		m   []mails.Mail
		err error
	)
	if to := r.URL.Query().Get("to"); to != "" {
		m, err = h.mailStore.GetMailsFor(to)
	} else {
		m, err = h.mailStore.GetMails()
	}
	if err != nil {
		problems.InternalServerError(err.Error()).WriteToHTTP(w)
		return
	}
	if m == nil {
		m = []mails.Mail{}
	}

	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleMail(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getMail(w, r, r.PathValue("id"))
	default:
		problems.MethodNotAllowed(r.Method, []string{http.MethodGet}).WriteToHTTP(w)
	}
}

func (h *Handler) getMail(w http.ResponseWriter, _ *http.Request, id string) {
	m, err := h.mailStore.GetMailByID(id)
	if err != nil {
		if errors.Is(err, mails.ErrMailNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		problems.InternalServerError(err.Error()).WriteToHTTP(w)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createSubmission(w, r)
	default:
		problems.MethodNotAllowed(r.Method, []string{http.MethodPost}).WriteToHTTP(w)
	}
}

func (h *Handler) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req CreateSubmissionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.CouldNotDecodeBody().WriteToHTTP(w)
		return
	}
	if len(req.To)+len(req.Cc) == 0 {
		problems.ValidationError("to", "At least one recipient is required").WriteToHTTP(w)
		return
	}

	msg := mail.Message{
		From:    req.From,
		To:      req.To,
		Cc:      req.Cc,
		Subject: req.Subject,
		Body:    req.Body,
		HTML:    req.HTML,
	}
	body, err := mail.Compose(msg)
	if err != nil {
		problems.ValidationError("from", err.Error()).WriteToHTTP(w)
		return
	}

	res, err := h.submitter.Send(r.Context(), msg.From, msg.Recipients(), body)
	if err != nil {
		problems.InternalServerError("Failed to send mail: " + err.Error()).WriteToHTTP(w)
		return
	}

	writeJSON(w, http.StatusCreated, CreateSubmissionResp{
		SessionID:        res.SessionID,
		FailedRecipients: res.FailedRecipients,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		problems.InternalServerError("Error marshalling response").WriteToHTTP(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

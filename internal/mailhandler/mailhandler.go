package mailhandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/OliverSchlueter/goutils/problems"
	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-transport/internal/mails"
	"github.com/OliverSchlueter/mail-transport/internal/smtp"
)

type Handler struct {
	mailStore *mails.Store
	sender    smtp.Sender
}

// New creates the inspection API. sender may be nil, in which case the send
// endpoint is not registered.
func New(mailStore *mails.Store, sender smtp.Sender) *Handler {
	return &Handler{
		mailStore: mailStore,
		sender:    sender,
	}
}

func (h *Handler) Register(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"/mails", h.handleMails)
	mux.HandleFunc(prefix+"/mails/{id}", h.handleMail)
	if h.sender != nil {
		mux.HandleFunc(prefix+"/send", h.handleSend)
	}
}

func (h *Handler) handleMails(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getMails(w, r)
	case http.MethodDelete:
		h.purgeMails(w, r)
	default:
		problems.MethodNotAllowed(r.Method, []string{http.MethodGet, http.MethodDelete}).WriteToHTTP(w)
	}
}

func (h *Handler) getMails(w http.ResponseWriter, r *http.Request) {
	m, err := h.mailStore.List()
	if err != nil {
		problems.InternalServerError(err.Error()).WriteToHTTP(w)
		return
	}

	sort.Slice(m, func(i, j int) bool { return m[i].ReceivedAt.Before(m[j].ReceivedAt) })

	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) purgeMails(w http.ResponseWriter, r *http.Request) {
	if err := h.mailStore.Purge(); err != nil {
		problems.InternalServerError(err.Error()).WriteToHTTP(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		h.getMail(w, r, id)
	default:
		problems.MethodNotAllowed(r.Method, []string{http.MethodGet}).WriteToHTTP(w)
	}
}

func (h *Handler) getMail(w http.ResponseWriter, r *http.Request, id string) {
	mail, err := h.mailStore.Get(id)
	if err != nil {
		if errors.Is(err, mails.ErrMailNotFound) {
			problems.NotFound("mail", id).WriteToHTTP(w)
			return
		}
		problems.InternalServerError(err.Error()).WriteToHTTP(w)
		return
	}

	writeJSON(w, http.StatusOK, mail)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.sendMail(w, r)
	default:
		problems.MethodNotAllowed(r.Method, []string{http.MethodPost}).WriteToHTTP(w)
	}
}

func (h *Handler) sendMail(w http.ResponseWriter, r *http.Request) {
	var req SendMailReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.CouldNotDecodeBody().WriteToHTTP(w)
		return
	}

	env := smtp.Envelope{
		From:     smtp.Address{Email: req.From, Name: req.FromName},
		Subject:  req.Subject,
		BodyHTML: req.Body,
	}
	for _, to := range req.To {
		env.To = append(env.To, smtp.Address{Email: to})
	}
	for name, value := range req.Headers {
		env.ExtraHeaders = append(env.ExtraHeaders, smtp.Header{Name: name, Value: value})
	}
	sort.Slice(env.ExtraHeaders, func(i, j int) bool { return env.ExtraHeaders[i].Name < env.ExtraHeaders[j].Name })

	if err := env.Validate(); err != nil {
		problems.ValidationError("envelope", err.Error()).WriteToHTTP(w)
		return
	}

	if err := h.sender.Send(env); err != nil {
		slog.Warn("Failed to send mail", sloki.WrapError(err))
		problems.InternalServerError("Failed to send mail: " + err.Error()).WriteToHTTP(w)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		problems.InternalServerError("Error marshalling response").WriteToHTTP(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

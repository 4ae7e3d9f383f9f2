package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"relayd/internal/dispatch"
	"relayd/internal/relay"
	"relayd/internal/scheduler"
	logx "relayd/pkg/logx"
)

// pastMessage is the wording the relay has always answered with; clients
// match on it.
const pastMessage = "Past is out of your hands"

type response struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response{Message: msg})
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrPastTimestamp):
		writeJSON(w, http.StatusNotFound, pastMessage)
	case errors.Is(err, scheduler.ErrInvalidTimestamp),
		errors.Is(err, relay.ErrEmptyRecipientList),
		errors.Is(err, relay.ErrWrongFileType),
		errors.Is(err, relay.ErrMalformedInput):
		writeJSON(w, http.StatusBadRequest, err.Error())
	default:
		var te *dispatch.TransportError
		if errors.As(err, &te) {
			writeJSON(w, http.StatusBadRequest, te.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, "ok")
}

func (s *Service) handleJobs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.sched.Snapshot())
}

// parseForm reads the multipart body and returns the required actor field.
func (s *Service) parseForm(w http.ResponseWriter, r *http.Request) (string, bool) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadMB << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, "malformed multipart body")
		return "", false
	}
	actor := r.FormValue("actor")
	if actor == "" {
		writeJSON(w, http.StatusBadRequest, "actor is required")
		return "", false
	}
	return actor, true
}

// emailPayload resolves the uploaded recipient list and assembles the mail
// body. link, when present, goes above the body text.
func (s *Service) emailPayload(w http.ResponseWriter, r *http.Request, link string) (relay.Payload, bool) {
	f, hdr, err := r.FormFile("recipients")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, "recipients csv file is required")
		return relay.Payload{}, false
	}
	defer f.Close()

	recipients, err := relay.Recipients(hdr.Filename, f)
	if err != nil {
		writeErr(w, err)
		return relay.Payload{}, false
	}

	body := r.FormValue("body")
	content := relay.ContentMessage
	if link != "" {
		body = relay.JoinBody(relay.SanitizeLink(link), body)
		content = relay.ContentLink
	}
	return relay.Payload{
		Recipients: recipients,
		Subject:    r.FormValue("subject"),
		Body:       body,
		Content:    content,
	}, true
}

func (s *Service) handleEmail(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	p, ok := s.emailPayload(w, r, "")
	if !ok {
		return
	}
	if err := s.disp.Dispatch(r.Context(), actor, relay.BackendMail, false, p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Email sent successfully")
}

// handleEmailFile spools the attachment and sends in the background; large
// recipient lists should not hold the request open. The dispatch pipeline
// still audits and logs the outcome.
func (s *Service) handleEmailFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	p, ok := s.emailPayload(w, r, "")
	if !ok {
		return
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, "file is required")
		return
	}
	defer f.Close()
	att, err := dispatch.Spool(hdr.Filename, f)
	if err != nil {
		s.log.Error("attachment spool failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, "could not store attachment")
		return
	}
	p.Attachment = att
	p.Content = relay.ContentFile

	s.disp.DispatchAsync(actor, relay.BackendMail, false, p)
	writeJSON(w, http.StatusOK, "Email consisting of File is sent successfully")
}

func (s *Service) handleEmailLink(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	link := r.FormValue("link")
	if link == "" {
		writeJSON(w, http.StatusBadRequest, "link is required")
		return
	}
	p, ok := s.emailPayload(w, r, link)
	if !ok {
		return
	}
	if err := s.disp.Dispatch(r.Context(), actor, relay.BackendMail, false, p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Email consisting of Link is sent successfully")
}

func (s *Service) scheduleEmail(w http.ResponseWriter, r *http.Request, withLink bool, okMsg string) {
	actor, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	link := ""
	if withLink {
		link = r.FormValue("link")
		if link == "" {
			writeJSON(w, http.StatusBadRequest, "link is required")
			return
		}
	}
	p, ok := s.emailPayload(w, r, link)
	if !ok {
		return
	}
	_, err := s.sched.Register(r.Context(), scheduler.Request{
		Actor:   actor,
		Backend: relay.BackendMail,
		Payload: p,
		When:    r.FormValue("date_and_time"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okMsg)
}

func (s *Service) handleEmailSchedule(w http.ResponseWriter, r *http.Request) {
	s.scheduleEmail(w, r, false, "Scheduled Email successfully")
}

func (s *Service) handleEmailScheduleLink(w http.ResponseWriter, r *http.Request) {
	s.scheduleEmail(w, r, true, "Email scheduled successfully")
}

// chatPayload assembles a channel message for discord or slack. link, when
// present, goes below the message text.
func chatPayload(r *http.Request, link string) relay.Payload {
	body := r.FormValue("message")
	content := relay.ContentMessage
	if link != "" {
		body = relay.JoinBody(body, relay.SanitizeLink(link))
		content = relay.ContentLink
	}
	return relay.Payload{Body: body, Content: content}
}

func (s *Service) chatMessage(kind relay.BackendKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := s.parseForm(w, r)
		if !ok {
			return
		}
		if err := s.disp.Dispatch(r.Context(), actor, kind, false, chatPayload(r, "")); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, "Message sent Successfully")
	}
}

func (s *Service) chatFile(kind relay.BackendKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := s.parseForm(w, r)
		if !ok {
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, "file is required")
			return
		}
		defer f.Close()
		att, err := dispatch.Spool(hdr.Filename, f)
		if err != nil {
			s.log.Error("attachment spool failed", logx.Err(err))
			writeJSON(w, http.StatusInternalServerError, "could not store attachment")
			return
		}
		p := chatPayload(r, "")
		p.Attachment = att
		p.Content = relay.ContentFile

		if err := s.disp.Dispatch(r.Context(), actor, kind, false, p); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, "File and Message sent Successfully")
	}
}

func (s *Service) chatLink(kind relay.BackendKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := s.parseForm(w, r)
		if !ok {
			return
		}
		link := r.FormValue("link")
		if link == "" {
			writeJSON(w, http.StatusBadRequest, "link is required")
			return
		}
		if err := s.disp.Dispatch(r.Context(), actor, kind, false, chatPayload(r, link)); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, "Message sent Successfully")
	}
}

func (s *Service) chatSchedule(kind relay.BackendKind, withLink bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := s.parseForm(w, r)
		if !ok {
			return
		}
		link := ""
		if withLink {
			link = r.FormValue("link")
			if link == "" {
				writeJSON(w, http.StatusBadRequest, "link is required")
				return
			}
		}
		_, err := s.sched.Register(r.Context(), scheduler.Request{
			Actor:   actor,
			Backend: kind,
			Payload: chatPayload(r, link),
			When:    r.FormValue("date_and_time"),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, "Message scheduled successfully")
	}
}

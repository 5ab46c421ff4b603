package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/vtourist/album"
	"wuyrush.io/vtourist/common/logging"
	cst "wuyrush.io/vtourist/constants"
	se "wuyrush.io/vtourist/errors"
	md "wuyrush.io/vtourist/models"
)

const (
	maxReqBodySize = 1 << 16
	// time allowed to write a websocket frame to the client
	wsWriteWait = 10 * time.Second
	// images are immutable per file identifier
	imageCacheControl = "public, max-age=86400"
)

var validate = validator.New()

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type createPinRequest struct {
	Title     string   `json:"title" validate:"max=256"`
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

type errorResponse struct {
	Code  se.ErrCode `json:"code"`
	Error string     `json:"error"`
}

// albumFrame is the last websocket frame of an album stream
type albumFrame struct {
	Kind   string         `json:"kind"`
	Result *album.Result  `json:"result,omitempty"`
	Err    *errorResponse `json:"err,omitempty"`
}

const frameKindComplete = "complete"

func (s *albumServer) HandleCreatePin() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodPost)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		r.Body = http.MaxBytesReader(w, r.Body, maxReqBodySize)
		var req createPinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			clog.WithError(err).Error("error decoding create pin request")
			writeErr(w, se.NewBadInput("error decoding request body").WithCause(err), clog)
			return
		}
		if err := validate.Struct(&req); err != nil {
			writeErr(w, se.NewBadInput(fmt.Sprintf("invalid pin: %s", err)).WithCause(err), clog)
			return
		}
		p, err := s.F.CreatePin(req.Title, *req.Latitude, *req.Longitude)
		if err != nil {
			writeErr(w, err, clog)
			return
		}
		clog.WithField(cst.LogFieldPinID, p.ID).Info("pin created")
		writeJSON(w, http.StatusCreated, p, clog)
	}
}

func (s *albumServer) HandleListPins() httprouter.Handle {
	clog := logging.WithFuncName()
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		pins, err := s.RS.ListPins()
		if err != nil {
			writeErr(w, err, clog)
			return
		}
		writeJSON(w, http.StatusOK, pins, clog)
	}
}

func (s *albumServer) HandleGetPin() httprouter.Handle {
	clog := logging.WithFuncName()
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		p, err := s.pin(ps)
		if err != nil {
			writeErr(w, err, clog)
			return
		}
		writeJSON(w, http.StatusOK, p, clog)
	}
}

func (s *albumServer) HandleDeletePin() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodDelete)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		pinID := ps.ByName("pid")
		if err := validPinID(pinID); err != nil {
			writeErr(w, err, clog)
			return
		}
		if err := s.F.DeletePin(r.Context(), pinID); err != nil {
			writeErr(w, err, clog.WithField(cst.LogFieldPinID, pinID))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *albumServer) HandleListPhotos() httprouter.Handle {
	clog := logging.WithFuncName()
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		p, err := s.pin(ps)
		if err != nil {
			writeErr(w, err, clog)
			return
		}
		photos, err := s.RS.ListPhotos(p.ID)
		if err != nil {
			writeErr(w, err, clog.WithField(cst.LogFieldPinID, p.ID))
			return
		}
		writeJSON(w, http.StatusOK, photos, clog)
	}
}

// HandleFetchPhotos fetches the first photo collection of a pin. Pins already having photos get their collection
// replaced with PUT instead.
func (s *albumServer) HandleFetchPhotos() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodPost)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		p, err := s.pin(ps)
		if err != nil {
			writeErr(w, err, clog)
			return
		}
		plog := clog.WithField(cst.LogFieldPinID, p.ID)
		n, err := s.RS.CountPhotos(p.ID)
		if err != nil {
			writeErr(w, err, plog)
			return
		}
		if n > 0 {
			writeErr(w, se.NewConflict(fmt.Sprintf("pin %s already has %d photos", p.ID, n)), plog)
			return
		}
		res, err := s.F.Fetch(r.Context(), p, nil)
		if err != nil {
			writeErr(w, err, plog)
			return
		}
		writeJSON(w, http.StatusOK, res, plog)
	}
}

func (s *albumServer) HandleReplacePhotos() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodPut)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		p, err := s.pin(ps)
		if err != nil {
			writeErr(w, err, clog)
			return
		}
		res, err := s.F.ReplaceCollection(r.Context(), p, nil)
		if err != nil {
			writeErr(w, err, clog.WithField(cst.LogFieldPinID, p.ID))
			return
		}
		writeJSON(w, http.StatusOK, res, clog)
	}
}

func (s *albumServer) HandleDeletePhoto() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodDelete)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		pinID, photoID := ps.ByName("pid"), ps.ByName("photoID")
		if err := validPinID(pinID); err != nil {
			writeErr(w, err, clog)
			return
		}
		if err := s.F.DeletePhoto(r.Context(), pinID, photoID); err != nil {
			writeErr(w, err, clog.WithField(cst.LogFieldPinID, pinID).WithField(cst.LogFieldPhotoID, photoID))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleStreamAlbum replaces the photo collection of a pin over websocket. Every event of the replacement is sent
// as a json text frame as it happens, followed by a frame carrying the outcome.
func (s *albumServer) HandleStreamAlbum() httprouter.Handle {
	clog := logging.WithFuncName()
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		p, err := s.pin(ps)
		if err != nil {
			writeErr(w, err, clog)
			return
		}
		plog := clog.WithField(cst.LogFieldPinID, p.ID)
		conn, uerr := upgrader.Upgrade(w, r, nil)
		if uerr != nil {
			// the upgrader has replied with an error already
			plog.WithError(uerr).Error("websocket upgrade error")
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		// the client sends nothing; reading just detects its departure
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		run := s.F.StartReplace(ctx, p)
		gone := false
		for e := range run.Events() {
			if gone {
				continue
			}
			if werr := writeFrame(conn, e); werr != nil {
				plog.WithError(werr).Warn("error sending album event, client gone")
				gone = true
				cancel()
			}
		}
		res, rerr := run.Wait()
		if gone {
			return
		}
		frame := albumFrame{Kind: frameKindComplete, Result: res}
		if rerr != nil {
			frame.Err = &errorResponse{Code: rerr.Code, Error: rerr.Error()}
		}
		if werr := writeFrame(conn, frame); werr != nil {
			plog.WithError(werr).Warn("error sending album outcome")
			return
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	}
}

func writeFrame(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

func (s *albumServer) HandleGetImage() httprouter.Handle {
	clog := logging.WithFuncName()
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		fid := ps.ByName("fid")
		b, err := s.Images.Get(fid)
		if err != nil {
			writeErr(w, err, clog.WithField(cst.LogFieldFileID, fid))
			return
		}
		if b == nil {
			writeErr(w, se.NewNotFound(fmt.Sprintf("image %s not found", fid)), clog)
			return
		}
		h := w.Header()
		h.Set("Content-Type", http.DetectContentType(b))
		h.Set("Content-Length", strconv.Itoa(len(b)))
		h.Set("Cache-Control", imageCacheControl)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(b); err != nil {
			clog.WithError(err).WithField(cst.LogFieldFileID, fid).Error("error sending image to requester")
		}
	}
}

// -------------- utils --------------
func validPinID(pinID string) *se.Err {
	if _, err := ksuid.Parse(pinID); err != nil {
		return se.NewNotFound(fmt.Sprintf("pin %s not found", pinID)).WithCause(err)
	}
	return nil
}

func (s *albumServer) pin(ps httprouter.Params) (*md.Pin, *se.Err) {
	pinID := ps.ByName("pid")
	if err := validPinID(pinID); err != nil {
		return nil, err
	}
	return s.RS.GetPin(pinID)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}, clog *log.Entry) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		clog.WithError(err).Error("error writing response")
	}
}

func writeErr(w http.ResponseWriter, err *se.Err, clog *log.Entry) {
	code := err.StatusCode()
	l := clog.WithField("errTrace", err.Trace()).WithField("statusCode", code)
	if code >= http.StatusInternalServerError {
		l.Error("error handling request")
	} else {
		l.Info("rejected request")
	}
	writeJSON(w, code, errorResponse{Code: err.Code, Error: err.Error()}, clog)
}

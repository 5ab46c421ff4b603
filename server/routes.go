package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	mw "wuyrush.io/vtourist/common/middleware"
)

// set up routes
func (s *albumServer) SetupMux() {
	r := httprouter.New()
	handle := func(method, path, name string, h httprouter.Handle) {
		r.Handle(method, path, mw.Chain(h, mw.Timed(name), mw.PanicRecoverer()))
	}
	// pins
	handle(http.MethodPost, "/pins", "createPin", s.HandleCreatePin())
	handle(http.MethodGet, "/pins", "listPins", s.HandleListPins())
	handle(http.MethodGet, "/pins/:pid", "getPin", s.HandleGetPin())
	handle(http.MethodDelete, "/pins/:pid", "deletePin", s.HandleDeletePin())
	// photos
	handle(http.MethodGet, "/pins/:pid/photos", "listPhotos", s.HandleListPhotos())
	handle(http.MethodPost, "/pins/:pid/photos", "fetchPhotos", s.HandleFetchPhotos())
	handle(http.MethodPut, "/pins/:pid/photos", "replacePhotos", s.HandleReplacePhotos())
	handle(http.MethodDelete, "/pins/:pid/photos/:photoID", "deletePhoto", s.HandleDeletePhoto())
	handle(http.MethodGet, "/pins/:pid/album", "streamAlbum", s.HandleStreamAlbum())
	handle(http.MethodGet, "/images/:fid", "getImage", s.HandleGetImage())
	// observability
	r.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	s.Router = r
}

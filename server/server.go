package main

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/vtourist/album"
	"wuyrush.io/vtourist/common/setup"
	cst "wuyrush.io/vtourist/constants"
	se "wuyrush.io/vtourist/errors"
	"wuyrush.io/vtourist/stores"
)

// ImageReader serves cached images.
type ImageReader interface {
	Get(id string) ([]byte, *se.Err)
}

// albumServer serves pins, their photo albums and the cached images of the photos
type albumServer struct {
	F      *album.Fetcher
	RS     stores.RecordStore
	Images ImageReader
	Router *httprouter.Router
}

func (s *albumServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func main() {
	if err := serve(); err != nil {
		log.WithError(err).Fatal("Error start up server and serve requests")
	}
}

// start up application server and serve incoming requests
func serve() error {
	setup.Load("VTouristServer")
	deps, err := setup.NewDeps(true)
	if err != nil {
		return err
	}
	defer deps.Close()

	svr := &albumServer{
		F:      deps.Fetcher,
		RS:     deps.Store,
		Images: deps.Cache,
	}
	svr.SetupMux()

	host, port := viper.GetString(cst.EnvAppHost), viper.GetString(cst.EnvAppPort)
	log.WithFields(log.Fields{
		"host": host,
		"port": port,
	}).Infof("vtourist server is starting up")
	addr := fmt.Sprintf("%s:%s", host, port)
	return http.ListenAndServe(addr, svr)
}

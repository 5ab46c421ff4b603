// Package janitor vends a long-running worker deleting cached images no photo refers to anymore, e.g. the ones
// left behind by a crash in the middle of a deletion.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/vtourist/common/logging"
	"wuyrush.io/vtourist/common/setup"
	cst "wuyrush.io/vtourist/constants"
	se "wuyrush.io/vtourist/errors"
)

func main() {
	if err := runJanitor(); err != nil {
		log.WithError(err).Fatal("error running janitor")
	}
}

type sweeper interface {
	Sweep(ctx context.Context) (int, *se.Err)
}

type janitor struct {
	S    sweeper
	Freq time.Duration
}

func runJanitor() error {
	setup.Load("VTouristJanitor")
	clog := logging.WithFuncName()
	deps, err := setup.NewDeps(false)
	if err != nil {
		clog.WithField("errTrace", err.Trace()).Error("error setting up dependencies")
		return err
	}
	defer deps.Close()
	freq := viper.GetDuration(cst.EnvJanitorSweepFreq)
	if freq <= 0 {
		clog.WithField("sweepFrequency", freq).Fatal("got non-positive janitor sweep frequency")
	}
	// ensure the worker can be responsive to system signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	j := &janitor{S: deps.Fetcher, Freq: freq}
	j.Run(sigChan)
	return nil
}

// Run sweeps the image cache every j.Freq until a signal arrives on stop. A sweep in progress is canceled by the
// signal. Failed sweeps are retried at the next tick.
func (j *janitor) Run(stop <-chan os.Signal) {
	clog := logging.WithFuncName()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		tkr := time.NewTicker(j.Freq)
		defer tkr.Stop()
		for {
			select {
			case <-tkr.C:
				n, err := j.S.Sweep(ctx)
				if err != nil {
					clog.WithField("errTrace", err.Trace()).Error("error sweeping image cache")
					continue
				}
				clog.WithField("count", n).Debug("orphaned images deleted")
			case <-ctx.Done():
				return
			}
		}
	}()
	<-stop
	clog.Info("got termination signal from kernel. Stopping")
	cancel()
	<-done
}

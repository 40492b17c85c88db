// Command lotgw runs a windowed-transfer gateway: it dials or accepts a
// single peer link, spools files dropped into a directory out as send
// sessions, and writes completed inbound objects into another directory.
// It sits outside the core windowed-transfer library, giving its
// operations a runnable home.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/windowed-transfer/lot/lot"
	"github.com/windowed-transfer/lot/lotadmin"
	"github.com/windowed-transfer/lot/lotnet"
)

func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		log.Warn("Unknown logging format")
	}
}

func establishLink(conf linkConf, accepted chan<- lot.Link) error {
	switch conf.Protocol {
	case "tcp":
		if conf.Mode == "dial" {
			link, err := lotnet.DialTCP(conf.Address)
			if err != nil {
				return err
			}
			accepted <- link
			return nil
		}
		listener := lotnet.NewTCPListener(conf.Address, func(l *lotnet.TCPLink) {
			accepted <- l
		})
		return listener.Start()

	case "ws":
		if conf.Mode == "dial" {
			link, err := lotnet.DialWebSocket(conf.Address)
			if err != nil {
				return err
			}
			accepted <- link
			return nil
		}
		mux := http.NewServeMux()
		mux.Handle("/", lotnet.NewWSListener(func(l *lotnet.WSLink) {
			accepted <- l
		}))
		go func() {
			if err := http.ListenAndServe(conf.Address, mux); err != nil {
				log.WithError(err).Fatal("WebSocket listener errored")
			}
		}()
		return nil

	default:
		return fmt.Errorf("unknown link protocol %q", conf.Protocol)
	}
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.toml>\n", os.Args[0])
		os.Exit(1)
	}

	conf, err := loadConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogging(conf.Logging)

	accepted := make(chan lot.Link, 1)
	if err := establishLink(conf.Link, accepted); err != nil {
		log.WithError(err).Fatal("Failed to establish link")
	}
	link := <-accepted
	log.Info("Link established")

	receiver := newSpoolReceiver(conf.Spool.OutDir)

	ctx, err := lot.CreateContext(link, lot.CboringCodec{}, uint16(conf.Link.MTU), 4, 4, receiver.onEvent, receiver.onBlock)
	if err != nil {
		log.WithError(err).Fatal("Failed to create context")
	}

	params := lot.Params{
		WindowSize:     uint16(conf.Session.WindowSize),
		Timeout:        conf.Session.timeout(),
		MaxRetransmits: uint16(conf.Session.MaxRetransmits),
		SessionExpiry:  conf.Session.expiry(),
	}

	sender, err := newSpoolSender(ctx, conf.Spool.InDir, params)
	if err != nil {
		log.WithError(err).Fatal("Failed to start spool watcher")
	}
	go sender.run()

	if conf.Admin.Listen != "" {
		go func() {
			handler := lotadmin.NewHandler(ctx)
			log.WithField("listen", conf.Admin.Listen).Info("Starting admin surface")
			if err := http.ListenAndServe(conf.Admin.Listen, handler); err != nil {
				log.WithError(err).Error("Admin surface errored")
			}
		}()
	}

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)
	<-closeChan

	log.Info("Received interrupt signal, shutting down")
	_ = sender.close()
}

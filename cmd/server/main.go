package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"njord/api/ws"
	"njord/config"
	"njord/domain/custody"
	"njord/events"
	infracustody "njord/infra/custody"
	"njord/infra/kafka"
	"njord/infra/outbox"
	"njord/infra/sequence"
	"njord/infra/wal"
	"njord/jobs/broadcaster"
	"njord/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load failed")
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	// ---------------- durable stores ----------------

	journal, err := wal.Open(wal.Config{Dir: cfg.WALDir, SegmentSize: cfg.SegmentSize})
	if err != nil {
		log.WithError(err).Fatal("journal init failed")
	}
	defer journal.Close()

	ob, err := outbox.Open(cfg.OutboxDir)
	if err != nil {
		log.WithError(err).Fatal("outbox init failed")
	}
	defer ob.Close()

	ledger, err := infracustody.Open(cfg.CustodyDir)
	if err != nil {
		log.WithError(err).Fatal("custody ledger init failed")
	}
	defer ledger.Close()

	// ---------------- event pipeline ----------------

	seq := sequence.New(0)

	var emitter events.Emitter
	if cfg.DirectPublish {
		ke := kafka.NewEmitter(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer ke.Close()
		emitter = ke
	} else {
		emitter = outbox.NewEmitter(ob, seq, log)
	}

	// ---------------- exchange + replay ----------------

	svc := service.NewExchange(journal, seq, ledger, custody.OwnerValidator{}, emitter, log)
	if err := svc.LoadSnapshot(cfg.SnapshotDir); err != nil {
		log.WithError(err).Fatal("snapshot load failed")
	}
	if err := svc.Replay(cfg.WALDir); err != nil {
		log.WithError(err).Fatal("journal replay failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---------------- background jobs ----------------

	svc.StartSnapshotJob(ctx, cfg.SnapshotDir, cfg.SnapshotInterval)

	if !cfg.DirectPublish {
		bc, err := broadcaster.New(ob, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.BroadcastInterval, log)
		if err != nil {
			log.WithError(err).Fatal("broadcaster init failed")
		}
		defer bc.Close()
		go bc.Run(ctx)
	}

	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UnixMilli()
				for _, pair := range svc.Pairs() {
					if n, err := svc.SweepExpired(pair, now); err == nil && n > 0 {
						log.WithFields(logrus.Fields{"pair": pair.String(), "removed": n}).Debug("expired orders swept")
					}
				}
			}
		}
	}()

	// ---------------- depth feed ----------------

	wsSrv := ws.NewServer(svc, cfg.DepthInterval, log)
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: wsSrv.Handler()}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("depth feed listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	// ---------------- shutdown ----------------

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

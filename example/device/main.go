// Command device runs a simulated camera: a protocol engine behind a
// TCP listener with a console ring, a frame buffer fed a moving test
// pattern, a script channel and a profiler.
package main

import (
	"flag"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"omvp-toolkit/channel"
	"omvp-toolkit/config"
	"omvp-toolkit/example/shared"
	"omvp-toolkit/omvp"
	"omvp-toolkit/transport"
	"omvp-toolkit/wire"
)

type logRunner struct {
	log *logrus.Logger

	mu      sync.Mutex
	running bool
}

func (r *logRunner) Start(src []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Infof("Script started (%d bytes)", len(src))
	r.running = true
	return nil
}

func (r *logRunner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Info("Script stopped")
	r.running = false
	return nil
}

func (r *logRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func main() {
	configPath := flag.String("config", "", "TOML device config")
	listen := flag.String("listen", ":4040", "TCP listen address")
	debug := flag.Bool("debug", false, "verbose frame logging")
	flag.Parse()

	level := logrus.InfoLevel
	if *debug {
		level = logrus.DebugLevel
	}
	log := shared.NewLogger(level)

	ecfg := omvp.DefaultConfig()
	ecfg.Logger = log
	addr := *listen
	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			log.WithError(err).Fatal("Failed to load config")
		}
		ecfg = fileCfg.EngineConfig(log)
		if fileCfg.Transport.Listen != "" {
			addr = fileCfg.Transport.Listen
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).Fatal("Failed to listen")
	}
	log.Infof("Device listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Fatal("Accept failed")
		}
		log.Infof("Host connected from %s", conn.RemoteAddr())
		go serve(conn, ecfg, log)
	}
}

func serve(conn net.Conn, ecfg omvp.Config, log *logrus.Logger) {
	engine := omvp.New(transport.NewConn(conn), ecfg)
	defer engine.Close()

	console := channel.NewRing("console", 4096, wire.ChanRead|wire.ChanWrite)
	fb := channel.NewFrameBuffer("framebuf", 1<<20)
	script := channel.NewScript("script", &logRunner{log: log})
	prof := channel.NewProfiler("profiler")

	for _, reg := range []struct {
		id uint8
		ch channel.Channel
	}{
		{1, fb},
		{2, console},
		{3, script},
		{4, prof},
	} {
		if err := engine.RegisterID(reg.id, reg.ch); err != nil {
			log.WithError(err).Fatal("Failed to register channel")
		}
	}

	console.WriteString("device ready\n")

	// feed the frame buffer a moving gradient at ~10 fps
	done := make(chan struct{})
	go func() {
		defer close(done)
		const w, h, bpp = 160, 120, 2
		frame := make([]byte, w*h*bpp)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		phase := byte(0)
		for {
			select {
			case <-ticker.C:
				start := time.Now()
				for i := range frame {
					frame[i] = byte(i) + phase
				}
				phase++
				if err := fb.Push(frame, w, h, bpp); err != nil {
					log.WithError(err).Warn("Frame push failed")
				}
				prof.Record(0x1001, uint64(time.Since(start).Microseconds()))
			case <-engine.Done():
				return
			}
		}
	}()

	engine.Wait()
	<-done
	log.Info("Host disconnected")
}

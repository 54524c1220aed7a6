// Command devbackend is a minimal assistant backend for trying idelink by hand.
// It answers the openGUI handshake, prints every frame the client sends, and
// forwards requests typed on stdin as `kind [json-payload]`, for example:
//
//	openFiles
//	readFile {"filepath":"main.go"}
//
// Usage: go run ./cmd/devbackend [-addr 127.0.0.1:65432] [-tls] [-mdns]
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/pseudocoder/idelink/internal/mdns"
	idetls "github.com/pseudocoder/idelink/internal/tls"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:65432", "Listen address")
	path := flag.String("path", "/ide/ws", "WebSocket path")
	token := flag.String("token", "", "Require this bearer token")
	useTLS := flag.Bool("tls", false, "Serve wss:// with a self-signed certificate")
	advertise := flag.Bool("mdns", false, "Advertise on the local network")
	debug := flag.Bool("debug", false, "Debug logging")
	flag.Parse()

	logger := logrus.New()
	logger.Formatter = &logrus.TextFormatter{}
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logger.WithField("app", "devbackend")

	auth, err := newTokenCheck(*token)
	if err != nil {
		log.WithError(err).Fatal("token")
	}
	b := newBackend(*path, auth, os.Stdout, log)
	srv := &http.Server{Addr: *addr, Handler: b.handler()}

	var fingerprint string
	if *useTLS {
		info, err := idetls.EnsureCertificate(idetls.CertConfig{})
		if err != nil {
			log.WithError(err).Fatal("certificate")
		}
		tlsConfig, err := idetls.ServerConfig(info.CertPath, info.KeyPath)
		if err != nil {
			log.WithError(err).Fatal("tls config")
		}
		srv.TLSConfig = tlsConfig
		fingerprint = info.Fingerprint
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.WithError(err).Fatal("listen")
	}

	scheme := "ws"
	if *useTLS {
		scheme = "wss"
	}
	fmt.Printf("Listening on %s://%s%s\n", scheme, ln.Addr(), *path)
	if fingerprint != "" {
		fmt.Printf("Certificate fingerprint: %s\n", fingerprint)
	}

	if *advertise {
		_, portStr, _ := net.SplitHostPort(ln.Addr().String())
		port, _ := strconv.Atoi(portStr)
		adv := mdns.NewAdvertiser(mdns.Config{
			Port:        port,
			Path:        *path,
			TLS:         *useTLS,
			Fingerprint: fingerprint,
		})
		if err := adv.Start(); err != nil {
			log.WithError(err).Warn("mdns advertise failed")
		} else {
			defer adv.Stop()
			fmt.Printf("Advertising %s\n", mdns.ServiceType)
		}
	}

	go func() {
		var err error
		if *useTLS {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("serve")
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			if scanner.Text() == "" {
				continue
			}
			kind, payload, err := parseCommand(scanner.Text())
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				continue
			}
			if err := b.send(kind, payload); err != nil {
				fmt.Fprintf(os.Stderr, "send %s: %v\n", kind, err)
				continue
			}
			fmt.Printf("-> %s %s\n", kind, compact(payload))
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-interrupt
	fmt.Println("Interrupted")
	srv.Close()
}

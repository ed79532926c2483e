package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/andrewlidong/keystonelight/logger"
	"github.com/andrewlidong/keystonelight/storage/engine"
	"github.com/andrewlidong/keystonelight/storage/server"
)

const (
	announcePrefix   = "/keystonelight/"
	announceLeaseTTL = 3
)

func main() {
	args := os.Args[1:]
	if len(args) < 1 || args[0] != "serve" {
		fmt.Fprintf(os.Stderr, "usage: %s serve [flags] [workers]\n", os.Args[0])
		os.Exit(2)
	}
	if err := serve(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		os.Exit(1)
	}
}

func serve(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", "", "TCP listen address (default 127.0.0.1:7878)")
	dir := flags.String("dir", "", "storage root directory")
	configPath := flags.String("config", "", "JSON engine config file")
	httpAddr := flags.String("http", "", "admin HTTP listen address (empty disables)")
	announce := flags.String("announce", "", "comma-separated etcd endpoints for service registration")
	profileCPU := flags.Bool("profile", false, "write a CPU profile to the storage root directory")
	flags.Parse(args)

	workers := 0
	if flags.NArg() > 0 {
		n, err := strconv.Atoi(flags.Arg(0))
		if err != nil || n < 1 {
			return errors.Errorf("invalid worker count %q", flags.Arg(0))
		}
		workers = n
	}

	log := logger.Default()

	engineConfig := engine.DefaultConfig()
	if *configPath != "" {
		loaded, err := engine.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		engineConfig = loaded
	}
	if *dir != "" {
		engineConfig.RootDirectory = *dir
	}
	engineConfig.Logger = log

	serverConfig := server.DefaultConfig()
	if *addr != "" {
		serverConfig.Addr = *addr
	}
	if workers > 0 {
		serverConfig.Workers = workers
	}
	serverConfig.Logger = log

	if *profileCPU {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(engineConfig.RootDirectory)).Stop()
	}

	s, err := server.NewServer(serverConfig, engineConfig)
	if err != nil {
		return err
	}

	if *httpAddr != "" {
		router := s.SetRouter()
		pprof.Register(router)
		admin := &http.Server{
			Addr:    *httpAddr,
			Handler: router,
		}
		go func() {
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("admin http: %v", err)
			}
		}()
	}

	if *announce != "" {
		go announceService(log, strings.Split(*announce, ","), serverConfig.Addr)
	}

	go func() {
		if err := s.ListenAndServe(); err != nil {
			log.Error("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	select {
	case sig := <-sigCh:
		log.Info("Got signal [%s] to exit.", sig)
		return s.Shutdown()
	case err := <-s.Fatal():
		log.Error("storage failure, shutting down: %v", err)
		s.Shutdown()
		return err
	}
}

// announceService registers this node in etcd under a short lease and keeps
// the lease alive for as long as the process runs. Registration failures are
// logged and never stop the server from serving.
func announceService(log *logger.Logger, endpoints []string, addr string) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:            endpoints,
		DialTimeout:          time.Second * 30,
		DialKeepAliveTimeout: time.Second * 30,
	})
	if err != nil {
		log.Error("announce: connect etcd: %v", err)
		return
	}
	defer cli.Close()

	ctx := context.Background()
	lease, err := cli.Grant(ctx, announceLeaseTTL)
	if err != nil {
		log.Error("announce: grant lease: %v", err)
		return
	}
	key := announcePrefix + addr
	if _, err := cli.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		log.Error("announce: register %s: %v", key, err)
		return
	}
	log.Info("Registered %s with lease %x", key, lease.ID)

	keepAlive, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		log.Error("announce: keep lease alive: %v", err)
		return
	}
	for resp := range keepAlive {
		log.Debug("announce: lease renewed, ttl=%d", resp.TTL)
	}
	log.Warn("announce: lease keepalive channel closed")
}

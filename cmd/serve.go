// cmd/serve.go

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/gorilla/mux"
	"github.com/juicedata/godaemon"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"TierCtx/pkg/engine"
	"TierCtx/pkg/medium"
	"TierCtx/pkg/utils"
)

func makeDaemon(c *cli.Context) error {
	var attrs godaemon.DaemonAttr
	if godaemon.Stage() == 0 {
		var err error
		logfile := c.String("log")
		attrs.Stdout, err = os.OpenFile(logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			logger.Errorf("open log file %s: %s", logfile, err)
		}
	}
	_, _, err := godaemon.MakeDaemon(&attrs)
	return err
}

// applyStamp overrides chunk layout flags with what the medium was
// formatted with; mixing layouts on one medium corrupts chunks.
func applyStamp(conf *engine.Config) {
	m, err := medium.Open(conf.PersistentPath)
	if err != nil {
		return // engine.New reports it
	}
	stamp, err := loadStamp(m)
	if err != nil {
		logger.Warnf("read format stamp: %s", err)
		return
	}
	if stamp == nil {
		return
	}
	if conf.ChunkSizeTokens != stamp.ChunkSize {
		logger.Warnf("chunk size %d overridden by formatted value %d", conf.ChunkSizeTokens, stamp.ChunkSize)
		conf.ChunkSizeTokens = stamp.ChunkSize
	}
	if conf.Compression != stamp.Compression {
		logger.Warnf("compression %s overridden by formatted value %s", conf.Compression, stamp.Compression)
		conf.Compression = stamp.Compression
	}
	if stamp.Encrypted && conf.EncryptKeyPath == "" {
		logger.Fatalf("medium %s is encrypted, --encrypt-rsa-key is required", m)
	}
}

type apiServer struct {
	engine *engine.Engine
}

type storeRequest struct {
	Position uint64  `json:"position"`
	Tokens   []int32 `json:"tokens"`
}

type retrieveRequest struct {
	Position uint64 `json:"position"`
	Count    int    `json:"count"`
}

type retrieveResponse struct {
	Tokens []int32 `json:"tokens"`
}

func writeJson(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("write response: %s", err)
	}
}

func (s *apiServer) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.engine.StoreTokens(r.Context(), req.Tokens, req.Position); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tokens, err := s.engine.RetrieveTokens(r.Context(), req.Position, req.Count)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJson(w, &retrieveResponse{Tokens: tokens})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJson(w, s.engine.Status())
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func serve(c *cli.Context) error {
	setLoggerLevel(c)
	conf, err := sessionConf(c)
	if err != nil {
		logger.Fatalf("%s", err)
	}
	if conf.PersistentPath != "" {
		applyStamp(&conf)
	}
	if c.Bool("background") {
		if err := makeDaemon(c); err != nil {
			logger.Fatalf("make daemon: %s", err)
		}
		utils.SetOutFile(c.String("log"))
	}
	if err := agent.Listen(agent.Options{}); err != nil {
		logger.Warnf("gops agent: %s", err)
	}

	eng, err := engine.New(conf)
	if err != nil {
		logger.Fatalf("engine: %s", err)
	}

	router := mux.NewRouter().StrictSlash(true)
	api := &apiServer{eng}
	router.HandleFunc("/api/store", api.handleStore).Methods("POST")
	router.HandleFunc("/api/retrieve", api.handleRetrieve).Methods("POST")
	router.HandleFunc("/api/status", api.handleStatus).Methods("GET")
	router.HandleFunc("/api/reset", api.handleReset).Methods("POST")

	srv := &http.Server{
		Addr:     c.String("listen"),
		Handler:  cors.Default().Handler(router),
		ErrorLog: utils.GetStdLogger(logger, logrus.WarnLevel),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logger.Infof("got signal %v, exiting", sig)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("shutdown: %s", err)
		}
	}()

	logger.Infof("listening on %s", srv.Addr)
	if err = srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("serve: %s", err)
	}
	if err = eng.Close(); err != nil {
		logger.Errorf("close session: %s", err)
	}
	return nil
}

func serveFlags() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Value: "127.0.0.1:9080",
			Usage: "address of the HTTP API",
		},
		&cli.BoolFlag{
			Name:    "d",
			Aliases: []string{"background"},
			Usage:   "run in background",
		},
		&cli.StringFlag{
			Name:  "log",
			Value: "/var/log/tierctx.log",
			Usage: "path of log file when running in background",
		},
	}
	return &cli.Command{
		Name:      "serve",
		Usage:     "run a context session behind an HTTP API",
		ArgsUsage: " ",
		Action:    serve,
		Flags:     append(flags, sessionFlags()...),
	}
}

package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/kfcemployee/htdocsd/internal/config"
	"github.com/kfcemployee/htdocsd/server/engine"
	"github.com/kfcemployee/htdocsd/server/protocol"
	"github.com/kfcemployee/htdocsd/server/static"
)

// Listen(), Serve(ctx) - open socket, then run reactor until ctx is done
// Start(ctx)           - both, plus SIGINT/SIGTERM handling
// handle(s, line)      - per connection pipeline: parse -> resolve -> frame

type Server struct {
	cfg *config.Config
	log zerolog.Logger

	resolver *static.Resolver
	types    static.TypeMode
	eng      *engine.Engine
}

// New resolves the document root once; it never changes after that
func New(cfg *config.Config, log zerolog.Logger) (*Server, error) {
	root, err := cfg.DocumentRoot()
	if err != nil {
		return nil, err
	}

	types, err := static.ParseTypeMode(cfg.Static.ContentType)
	if err != nil {
		return nil, err
	}

	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		log.Warn().Str("root", root).Msg("document root is not a directory, every request will be 404")
	}

	resolver := static.NewResolver(root, static.ResolverOptions{
		Index:          cfg.Static.Index,
		DecodePath:     cfg.Static.DecodePath,
		AllowTraversal: cfg.Static.AllowTraversal,
	})

	return &Server{
		cfg:      cfg,
		log:      log,
		resolver: resolver,
		types:    types,
	}, nil
}

// Listen opens the listening socket; failure here is fatal, nothing retries
func (srv *Server) Listen() error {
	addr, err := srv.cfg.BindAddr()
	if err != nil {
		return err
	}

	eng, err := engine.Listen(engine.Options{
		Addr:        addr,
		Port:        srv.cfg.Server.Port,
		Backlog:     srv.cfg.Server.Backlog,
		IdleTimeout: srv.cfg.Server.IdleTimeout,
		MaxLine:     srv.cfg.Server.MaxRequestLine,
		Logger:      srv.log,
	}, srv.handle)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.cfg.ServerAddress(), err)
	}
	srv.eng = eng

	srv.log.Info().
		Str("addr", net.JoinHostPort(srv.cfg.Server.Host, strconv.Itoa(eng.Port()))).
		Str("root", srv.resolver.Root()).
		Msg("listening")
	return nil
}

// Serve runs the reactor until ctx is done
func (srv *Server) Serve(ctx context.Context) error {
	if srv.eng == nil {
		return fmt.Errorf("serve called before listen")
	}
	err := srv.eng.Run(ctx)
	srv.log.Info().Msg("server stopped")
	return err
}

// Start listens and serves until ctx is done or the process gets SIGINT/SIGTERM
func (srv *Server) Start(ctx context.Context) error {
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}

// Port the server is bound to, 0 before Listen
func (srv *Server) Port() int {
	if srv.eng == nil {
		return 0
	}
	return srv.eng.Port()
}

// handle runs inside the reactor: it must not block
func (srv *Server) handle(s *engine.Session, line []byte) bool {
	srv.log.Debug().Str("conn", s.ID).Bytes("line", line).Msg("processing request")

	target, err := protocol.ParseRequestLine(line)
	if err != nil {
		srv.log.Debug().Str("conn", s.ID).Err(err).Msg("dropping request")
		return false
	}

	res, err := srv.resolver.Resolve(target)
	if err != nil {
		srv.notFound(s, err)
		return true
	}

	// O_NONBLOCK so a fifo under the root cannot stall the loop
	f, err := os.OpenFile(res.Path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		srv.notFound(s, err)
		return true
	}

	s.SetState(engine.StateResolvedOK)
	s.Out = protocol.AppendOK(s.Out, srv.types.ContentType(res.Path, f), res.Size)
	s.SendFile(f, res.Size)

	srv.log.Debug().Str("conn", s.ID).Str("path", res.Path).Int64("size", res.Size).Msg("loading file")
	return true
}

func (srv *Server) notFound(s *engine.Session, cause error) {
	srv.log.Debug().Str("conn", s.ID).Err(cause).Msg("not found")

	s.SetState(engine.StateResolvedFail)
	s.Out = protocol.AppendNotFound(s.Out, srv.cfg.Static.LegacyNotFound)
}

// Package jetstream runs the embedded NATS JetStream broker that carries
// recordings from the proxy to the processor.
package jetstream

import (
	"errors"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

var ErrNotReady = errors.New("NATS server not ready")

type Server struct{ ns *server.Server }

// NewServer starts an in-process JetStream server without a network
// listener. Clients reach it through Connect.
func NewServer(storeDir string) (*Server, error) {
	ns, err := server.NewServer(&server.Options{
		DontListen: true,
		JetStream:  true,
		StoreDir:   storeDir,
		NoSigs:     true,
	})
	if err != nil {
		return nil, err
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, ErrNotReady
	}
	log.Debug().Str("store_dir", storeDir).Msg("embedded NATS started")
	return &Server{ns: ns}, nil
}

func (s *Server) Connect() (*nats.Conn, error) {
	return nats.Connect(s.ns.ClientURL(), nats.InProcessServer(s.ns), nats.Name("replaytap"))
}

func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}

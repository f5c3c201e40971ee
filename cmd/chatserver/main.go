// Command chatserver runs an rdtp endpoint hosting a single chat room.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/duskline/rdtp/chat"
	"github.com/duskline/rdtp/config"
	"github.com/duskline/rdtp/endpoint"
	"github.com/duskline/rdtp/metrics"
	"github.com/duskline/rdtp/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listenAddr string
		room       string
		configPath string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "chatserver",
		Short: "Serve a multi-user chat room over rdtp",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listenAddr, room, configPath, metricsAddr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&listenAddr, "listen", "0.0.0.0:9000", "address to bind the rdtp socket")
	flags.StringVar(&room, "room", "", "room name (overrides config file)")
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&metricsAddr, "metrics-listen", "", "address to serve Prometheus /metrics on (empty disables)")

	return cmd
}

func run(listenAddr, roomFlag, configPath, metricsAddr string) error {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	var file config.File
	if configPath != "" {
		var err error
		file, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	roomName := file.Room()
	if roomFlag != "" {
		roomName = roomFlag
	}

	cfg := file.ToTransportConfig()
	ep, err := endpoint.Listen(log, listenAddr, cfg)
	if err != nil {
		return err
	}
	defer ep.Close()

	room := chat.NewRoom(log, roomName, file.HistoryLimit())

	collector := metrics.NewConnCollector([]string{"conn_id", "username"}, prometheus.Labels{"room": roomName})
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)
		reg.MustRegister(metrics.ChecksumFailureCollector(ep, prometheus.Labels{"room": roomName}))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server exited")
			}
		}()
	}

	log.Info().Str("addr", listenAddr).Str("room", roomName).Msg("chatserver listening")

	for {
		conn, err := ep.Accept()
		if err != nil {
			log.Error().Err(err).Msg("accept failed, stopping")
			return err
		}
		go serveConn(log, room, collector, conn)
	}
}

// serveConn drives one accepted connection end to end: it expects a login
// frame first (spec §6's application API sits one layer above transport;
// chat owns what "the first message" means), then loops delivering every
// subsequent line to the room or as a direct message, until the peer
// closes or the connection aborts.
func serveConn(log zerolog.Logger, room *chat.Room, collector *metrics.ConnCollector, conn *transport.Conn) {
	defer conn.Close()

	first, err := conn.Recv()
	if err != nil {
		log.Warn().Err(err).Msg("connection closed before login")
		return
	}

	username := strings.TrimPrefix(string(first), "LOGIN ")
	session, err := room.Join(username, conn)
	if err != nil {
		log.Warn().Err(err).Str("username", username).Msg("login rejected")
		return
	}
	collector.Add(conn.ConnID, conn, strconv.FormatUint(uint64(conn.ConnID), 10), session.Username)
	defer collector.Remove(conn.ConnID)
	defer room.Leave(session)

	log.Info().Str("username", username).Uint32("conn_id", conn.ConnID).Msg("session joined")

	for {
		line, err := conn.Recv()
		if err != nil {
			return
		}

		text := string(line)
		if to, body, ok := chat.ParseDirectMessage(text); ok {
			if err := room.SendDM(username, to, body); err != nil {
				room.Broadcast("", fmt.Sprintf("* %s", err))
			}
			continue
		}
		room.Broadcast(username, text)
	}
}

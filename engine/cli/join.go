package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/api"
	"github.com/soundmap/soundmap/engine/command"
	"github.com/soundmap/soundmap/engine/config"
	"github.com/soundmap/soundmap/engine/geofeed"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/multierr"
	"github.com/soundmap/soundmap/engine/participant"
	"github.com/soundmap/soundmap/engine/session"
	"github.com/soundmap/soundmap/engine/transport/pion"
	"github.com/soundmap/soundmap/engine/uuid"
	"github.com/spf13/pflag"
)

// joinHandler joins a room: it builds the transport, the position feed and
// the session, then serves the HTTP control surface until the context ends.
type joinHandler struct {
	args struct {
		config string
	}

	log    logger.Logger
	props  Props
	config config.Config
}

func (h *joinHandler) RegisterFlags(c *command.Command, flags *pflag.FlagSet) {
	flags.StringVarP(&h.args.config, "config", "c", "", "config file to use")
}

func (h *joinHandler) Handle(ctx context.Context, args []string) error {
	log := h.log

	configFiles := []string{}
	if h.args.config != "" {
		configFiles = append(configFiles, h.args.config)
	}

	c, err := config.Read(configFiles)
	if err != nil {
		return errors.Annotate(err, "read config")
	}

	h.config = c

	log.Info(fmt.Sprintf("Using config: %+v", c), nil)

	clientID := identifiers.ClientID(uuid.NewBase62())
	room := identifiers.RoomID(c.Room)

	feedFactory := geofeed.NewFactory(log, c.Feed)
	defer feedFactory.Close()

	feed, err := feedFactory.NewFeed(room, clientID)
	if err != nil {
		return errors.Annotate(err, "create feed")
	}

	tr, err := pion.New(pion.Params{
		Log:        log,
		ClientID:   clientID,
		ICEServers: c.Transport.ICEServers,
	})
	if err != nil {
		return errors.Annotate(err, "create transport")
	}

	sess, err := session.New(session.Params{
		Log:       log,
		Config:    c,
		Room:      room,
		Transport: tr,
		Feed:      feed,
	})
	if err != nil {
		return errors.Annotate(err, "create session")
	}

	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			log.Error("Close session", errors.Trace(closeErr), nil)
		}
	}()

	if c.Nickname != "" {
		nickname := c.Nickname
		if err := sess.SetProfile(participant.Update{Username: &nickname}); err != nil {
			return errors.Annotate(err, "set nickname")
		}
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(
		c.BindHost,
		strconv.Itoa(c.BindPort),
	))
	if err != nil {
		return errors.Annotate(err, "listen")
	}

	defer listener.Close()

	mux := api.NewMux(log, h.props.Version, sess, c.Prometheus)

	addr, _ := listener.Addr().(*net.TCPAddr)
	log.Info("Listen", logger.Ctx{
		"local_addr": addr,
		"client_id":  clientID,
		"room":       room,
	})

	server := api.NewServer(api.Params{
		TLSCertFile: c.TLS.Cert,
		TLSKeyFile:  c.TLS.Key,
	}, mux)

	err = server.Start(ctx, listener)
	if err != nil && !multierr.Is(err, context.Canceled) {
		return errors.Trace(err)
	}

	return nil
}

func newJoinCmd(props Props) *command.Command {
	h := &joinHandler{
		log:   props.Log,
		props: props,
	}

	return command.New(command.Params{
		Name:         "join",
		Desc:         "Joins a room and starts the engine (default)",
		FlagRegistry: h,
		Handler:      h,
	})
}

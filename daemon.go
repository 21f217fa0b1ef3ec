package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"os/user"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/mil-ad/mobdevctl/internal/control"
	"github.com/mil-ad/mobdevctl/internal/dispatch"
	"github.com/mil-ad/mobdevctl/internal/helper"
	"github.com/mil-ad/mobdevctl/internal/netif"
	"github.com/mil-ad/mobdevctl/internal/notify"
	"github.com/mil-ad/mobdevctl/internal/usb/libusb"
)

const (
	// maxRequestSize bounds what a client can make the daemon read.
	maxRequestSize = 4 << 10
	requestTimeout = 5 * time.Second
)

type daemon struct {
	dispatcher  *dispatch.Dispatcher
	allowedUIDs []uint32
	log         zerolog.Logger
	started     time.Time
}

func (d *daemon) handleRequest(ctx context.Context, req IPCRequest) IPCResponse {
	switch req.Op {
	case opDispatch:
		cmd := control.Command(req.Command)
		start := time.Now()
		status, err := d.dispatcher.Dispatch(ctx, cmd, req.Args)
		recordDispatch(cmd, status, time.Since(start))
		resp := IPCResponse{Status: status}
		if err != nil {
			resp.Error = err.Error()
		}
		return resp

	case opStatus:
		return d.status(ctx)

	default:
		return IPCResponse{
			Status: control.StatusInvalidArgument,
			Error:  fmt.Sprintf("unknown op: %q", req.Op),
		}
	}
}

func (d *daemon) status(ctx context.Context) IPCResponse {
	enabled := d.dispatcher.NotificationsEnabled()
	found, err := d.dispatcher.Execute(ctx, control.DetectRequest{})
	if err != nil {
		return IPCResponse{Status: found, Error: err.Error(), Notifications: &enabled}
	}
	phone := found == 1
	return IPCResponse{Notifications: &enabled, Phone: &phone}
}

func (d *daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id := uuid.NewString()
	log := d.log.With().Str("request_id", id).Logger()
	reply := func(resp IPCResponse) {
		resp.ID = id
		if err := json.NewEncoder(conn).Encode(resp); err != nil {
			log.Debug().Err(err).Msg("write response")
		}
	}

	cred, err := peerCred(conn)
	if err != nil {
		log.Warn().Err(err).Msg("peer credentials unavailable")
		reply(IPCResponse{Status: control.StatusPermission, Error: "peer credentials unavailable"})
		return
	}
	log = log.With().Uint32("uid", cred.Uid).Int32("pid", cred.Pid).Logger()
	if len(d.allowedUIDs) > 0 && !slices.Contains(d.allowedUIDs, cred.Uid) {
		log.Warn().Msg("caller not allowed")
		reply(IPCResponse{Status: control.StatusPermission, Error: "caller not allowed"})
		return
	}

	if err := conn.SetReadDeadline(time.Now().Add(requestTimeout)); err != nil {
		log.Warn().Err(err).Msg("set read deadline")
		reply(IPCResponse{Status: control.StatusIO, Error: "connection setup failed"})
		return
	}
	var req IPCRequest
	if err := json.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&req); err != nil {
		reply(IPCResponse{Status: control.StatusInvalidArgument, Error: "invalid request: " + err.Error()})
		return
	}

	resp := d.handleRequest(ctx, req)
	log.Info().
		Str("op", req.Op).
		Stringer("command", control.Command(req.Command)).
		Int32("status", resp.Status).
		Msg("request handled")
	reply(resp)
}

// prepareSocket sets the socket's permissions. Callers other than root need
// a group or other write bit, on top of being in allowed_uids.
func prepareSocket(sock string, mode fs.FileMode, group string) error {
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return fmt.Errorf("socket_group: %w", err)
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("socket_group %s: bad gid %q", group, g.Gid)
		}
		if err := os.Chown(sock, -1, gid); err != nil {
			return fmt.Errorf("chown %s: %w", sock, err)
		}
	}
	if err := os.Chmod(sock, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", sock, err)
	}
	return nil
}

// peerCred reads the connecting process's credentials from the socket.
func peerCred(conn net.Conn) (*unix.Ucred, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("not a unix socket connection")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	return cred, credErr
}

func newDispatcher(cfg Config, sink notify.Sink, log zerolog.Logger) *dispatch.Dispatcher {
	helperLog := log.With().Str("component", "helper").Logger()
	bridge := &helper.Bridge{
		Path:      cfg.Helper.Path,
		Env:       helper.Environment(cfg.Helper.Home, cfg.Helper.SearchPath),
		Timeout:   cfg.Helper.Timeout,
		RemoteDir: cfg.RemoteDir,
		LocalDir:  cfg.LocalDir,
		Runner:    helper.ExecRunner{Log: helperLog, WaitDelay: cfg.Helper.KillGrace},
		Log:       helperLog,
	}
	return dispatch.New(
		libusb.Enumerator{Log: log.With().Str("component", "usb").Logger(), Debug: cfg.USBDebug},
		bridge,
		netif.NewController(netif.SysRegistry{}, log.With().Str("component", "netif").Logger()),
		notify.New(sink, log.With().Str("component", "notify").Logger()),
		dispatch.Options{
			DefaultIfName:  cfg.TetherInterface,
			CheckCallState: cfg.Helper.CheckCallState,
		},
		log,
	)
}

func runDaemon() error {
	cfg, err := loadConfig(configPath())
	if err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log := initLogger(cfg.LogLevel)
	if unix.Geteuid() != 0 {
		log.Warn().Msg("not running as root, tethering needs CAP_NET_ADMIN")
	}

	n := newNotifier(cfg.NotifyBus, log)
	defer n.close()

	d := &daemon{
		dispatcher:  newDispatcher(cfg, n, log),
		allowedUIDs: cfg.AllowedUIDs,
		log:         log,
		started:     time.Now(),
	}

	sock := cfg.Socket
	os.Remove(sock) // remove stale socket
	ln, err := net.Listen("unix", sock)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sock, err)
	}
	defer os.Remove(sock)
	defer ln.Close()
	if err := prepareSocket(sock, cfg.SocketMode, cfg.SocketGroup); err != nil {
		return err
	}
	if cfg.SocketMode&0o077 == 0 && slices.ContainsFunc(cfg.AllowedUIDs, func(uid uint32) bool { return uid != 0 }) {
		log.Warn().Msg("allowed_uids lists non-root users but socket_mode gives them no access")
	}

	// Graceful shutdown; cancelling ctx also kills running helpers.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		ln.Close()
	}()

	if cfg.StatusAddr != "" {
		go func() {
			if err := d.serveStatus(ctx, cfg.StatusAddr); err != nil {
				log.Error().Err(err).Msg("status endpoint failed")
			}
		}()
	}

	log.Info().Str("socket", sock).Str("helper", cfg.Helper.Path).Msg("listening")
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

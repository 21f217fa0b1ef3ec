package main

import (
	"context"
	"encoding/json"
	"iter"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mil-ad/mobdevctl/internal/control"
	"github.com/mil-ad/mobdevctl/internal/dispatch"
	"github.com/mil-ad/mobdevctl/internal/helper"
	"github.com/mil-ad/mobdevctl/internal/netif"
	"github.com/mil-ad/mobdevctl/internal/notify"
	"github.com/mil-ad/mobdevctl/internal/usb"
)

type stubRunner struct {
	argvs [][]string
}

func (r *stubRunner) Run(_ context.Context, inv helper.Invocation) (helper.Result, error) {
	r.argvs = append(r.argvs, inv.Args)
	return helper.Result{}, nil
}

type noLinks struct{}

func (noLinks) Acquire(name string) (netif.Link, error) {
	return nil, control.ErrNotFound
}

func newTestDaemon(t *testing.T, allowed []uint32) (*daemon, *stubRunner) {
	t.Helper()
	phone := usb.Device{Vendor: 0x18d1, Product: 0x4ee1, Configs: []usb.Config{{
		Interfaces: []usb.Interface{{AltSettings: []usb.Setting{{Class: usb.ClassStillImage}}}},
	}}}
	return newTestDaemonWith(t, usb.Static{phone}, allowed)
}

type brokenEnumerator struct{}

func (brokenEnumerator) Enumerate() iter.Seq[usb.Device] {
	panic("usb subsystem exploded")
}

func newTestDaemonWith(t *testing.T, devices usb.Enumerator, allowed []uint32) (*daemon, *stubRunner) {
	t.Helper()
	runner := &stubRunner{}
	d := dispatch.New(
		devices,
		&helper.Bridge{Path: "/bin/true", RemoteDir: "/sdcard", LocalDir: "/tmp", Runner: runner, Log: zerolog.Nop()},
		netif.NewController(noLinks{}, zerolog.Nop()),
		notify.New(newNotifier("none", zerolog.Nop()), zerolog.Nop()),
		dispatch.Options{DefaultIfName: "usb0"},
		zerolog.Nop(),
	)
	return &daemon{dispatcher: d, allowedUIDs: allowed, log: zerolog.Nop(), started: time.Now()}, runner
}

func block(t *testing.T, a control.Args) []byte {
	t.Helper()
	b, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestHandleRequestDispatch(t *testing.T) {
	d, runner := newTestDaemon(t, nil)
	ctx := context.Background()

	if resp := d.handleRequest(ctx, IPCRequest{Op: opDispatch, Command: uint32(control.Detect)}); resp.Status != 1 {
		t.Fatalf("detect status %d", resp.Status)
	}
	resp := d.handleRequest(ctx, IPCRequest{Op: opDispatch, Command: uint32(control.CallControl), Args: block(t, control.Args{Action: true})})
	if resp.Status != 0 || resp.Error != "" {
		t.Fatalf("call: %+v", resp)
	}
	if len(runner.argvs) != 1 || runner.argvs[0][3] != string(helper.KeyCall) {
		t.Fatalf("unexpected helper argv %q", runner.argvs)
	}

	resp = d.handleRequest(ctx, IPCRequest{Op: opDispatch, Command: uint32(control.Tethering), Args: block(t, control.Args{Enable: true})})
	if resp.Status != control.StatusNotFound || resp.Error == "" {
		t.Fatalf("tether on missing iface: %+v", resp)
	}
	resp = d.handleRequest(ctx, IPCRequest{Op: opDispatch, Command: 99})
	if resp.Status != control.StatusInvalidArgument {
		t.Fatalf("unknown command: %+v", resp)
	}
}

func TestHandleRequestStatus(t *testing.T) {
	d, _ := newTestDaemon(t, nil)
	ctx := context.Background()
	d.handleRequest(ctx, IPCRequest{Op: opDispatch, Command: uint32(control.Notifications), Args: block(t, control.Args{Enable: true})})

	resp := d.handleRequest(ctx, IPCRequest{Op: opStatus})
	if resp.Phone == nil || !*resp.Phone || resp.Notifications == nil || !*resp.Notifications {
		t.Fatalf("unexpected status %+v", resp)
	}
	if resp := d.handleRequest(ctx, IPCRequest{Op: "reboot"}); resp.Status != control.StatusInvalidArgument {
		t.Fatalf("unknown op: %+v", resp)
	}
}

func TestHandleRequestStatusSurvivesPanic(t *testing.T) {
	d, _ := newTestDaemonWith(t, brokenEnumerator{}, nil)
	resp := d.handleRequest(context.Background(), IPCRequest{Op: opStatus})
	if resp.Status != control.StatusIO || resp.Error == "" || resp.Phone != nil {
		t.Fatalf("unexpected status response %+v", resp)
	}
	resp = d.handleRequest(context.Background(), IPCRequest{Op: opDispatch, Command: uint32(control.Notifications), Args: block(t, control.Args{Enable: true})})
	if resp.Status != 0 {
		t.Fatalf("daemon unusable after a panic: %+v", resp)
	}
}

// serve runs handleConn for every connection on a temporary socket.
func serve(t *testing.T, d *daemon) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "d.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go d.handleConn(context.Background(), conn)
		}
	}()
	return sock
}

func TestHandleConnRoundTrip(t *testing.T) {
	d, _ := newTestDaemon(t, []uint32{uint32(os.Getuid())})
	sock := serve(t, d)

	resp, err := ipcCall(sock, IPCRequest{Op: opDispatch, Command: uint32(control.MediaControl), Args: block(t, control.Args{Action: true})})
	if err != nil {
		t.Fatalf("ipc call: %v", err)
	}
	if resp.Status != 0 || resp.ID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleConnRejectsUnknownUID(t *testing.T) {
	other := uint32(os.Getuid()) + 1
	d, runner := newTestDaemon(t, []uint32{other})
	sock := serve(t, d)

	// The daemon answers before reading anything from a rejected peer.
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Status != control.StatusPermission {
		t.Fatalf("expected permission error, got %+v", resp)
	}
	if len(runner.argvs) != 0 {
		t.Fatalf("rejected caller reached the helper")
	}
}

func TestHandleConnMalformedRequest(t *testing.T) {
	d, _ := newTestDaemon(t, nil)
	sock := serve(t, d)

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte("{not json\n"))

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Status != control.StatusInvalidArgument || !strings.HasPrefix(resp.Error, "invalid request") {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPrepareSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ctl.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// The caller's primary group is always a legal chown target.
	u, err := user.Current()
	if err != nil {
		t.Skipf("current user: %v", err)
	}
	g, err := user.LookupGroupId(u.Gid)
	if err != nil {
		t.Skipf("lookup group %s: %v", u.Gid, err)
	}

	if err := prepareSocket(sock, 0o660, g.Name); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	fi, err := os.Stat(sock)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o660 {
		t.Fatalf("mode %v, want 0660", fi.Mode().Perm())
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok && strconv.Itoa(int(st.Gid)) != u.Gid {
		t.Fatalf("gid %d, want %s", st.Gid, u.Gid)
	}
}

func TestPrepareSocketErrors(t *testing.T) {
	dir := t.TempDir()
	if err := prepareSocket(filepath.Join(dir, "missing.sock"), 0o600, ""); err == nil {
		t.Fatalf("expected chmod error for a missing socket")
	}
	if err := prepareSocket(filepath.Join(dir, "missing.sock"), 0o600, "no-such-group-mobdevctl"); err == nil {
		t.Fatalf("expected unknown group error")
	}
}

func TestStatusRouter(t *testing.T) {
	d, _ := newTestDaemon(t, nil)
	r := d.statusRouter()
	recordDispatch(control.Detect, 1, time.Millisecond)

	for _, path := range []string{"/health", "/status", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: %d", path, w.Code)
		}
		if path == "/metrics" && !strings.Contains(w.Body.String(), "mobdevctl_dispatch_total") {
			t.Fatalf("dispatch counter missing from /metrics")
		}
	}
}

func TestMetricLabels(t *testing.T) {
	if commandLabel(control.Command(1234)) != "unknown" || commandLabel(control.Tethering) != "tether" {
		t.Fatalf("unexpected command labels")
	}
	if statusLabel(1) != "ok" || statusLabel(control.StatusNotFound) != "ENODEV" {
		t.Fatalf("unexpected status labels: %s %s", statusLabel(1), statusLabel(control.StatusNotFound))
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mil-ad/streampad/internal/bluez"
	"github.com/mil-ad/streampad/internal/config"
	"github.com/mil-ad/streampad/internal/foreground"
	"github.com/mil-ad/streampad/internal/hid"
	"github.com/mil-ad/streampad/internal/input"
	"github.com/mil-ad/streampad/internal/logging"
	"github.com/mil-ad/streampad/internal/profile"
	"github.com/mil-ad/streampad/internal/session"
	"github.com/mil-ad/streampad/internal/settings"
	"github.com/mil-ad/streampad/internal/transport"
)

type daemon struct {
	logger    *logging.Logger
	log       *slog.Logger
	ctrl      *session.Controller
	bt        *transport.BluetoothBackend
	settings  *settings.Store
	profiles  *profile.Store
	repeater  *input.Repeater
	keepAlive *input.KeepAlive

	mu      sync.Mutex
	cfg     *config.Config
	current string // active profile name
}

// newDaemon opens the stores and builds the transport stack. Nothing is
// started until start.
func newDaemon(cfg *config.Config, env transport.Environment, logger *logging.Logger) (*daemon, error) {
	log := logger.WithComponent("daemon")

	st, err := settings.Open(cfg.Settings.Path)
	if err != nil {
		return nil, err
	}
	profiles, err := profile.Open(cfg.Profiles.Dir, cfg.Profiles.KeyFile, logger.WithComponent("profile"))
	if err != nil {
		st.Close()
		return nil, err
	}
	if _, err := profiles.MigrateLegacy(); err != nil {
		log.Warn("legacy profile migration failed", "error", err)
	}
	if created, err := profiles.InitDefault(); err != nil {
		st.Close()
		return nil, fmt.Errorf("create default profile: %w", err)
	} else if created {
		log.Info("created default profile", "dir", profiles.Dir())
	}
	if err := profiles.SelfTest(); err != nil {
		log.Warn("profile store self test failed", "error", err)
	}

	var elevator foreground.Elevator = foreground.NopElevator{}
	if cfg.Foreground.Enabled {
		elevator = foreground.NewNiceElevator(cfg.Foreground.Boost, cfg.Foreground.Base)
	}
	policy := foreground.NewPolicy(elevator, foreground.WithLogger(logger.WithComponent("foreground")))

	bt := transport.NewBluetoothBackend(appSettings(cfg), policy, logger.WithComponent("bluetooth"))
	backends := map[session.ConnectionMode]transport.Backend{
		session.ModeBluetooth: bt,
		session.ModeUSB:       transport.NewUSBBackend(logger.WithComponent("usb")),
		session.ModeDemo:      transport.NewNullBackend(logger.WithComponent("demo"), nil),
	}
	ctrl := session.NewController(env, backends, nil, logger.WithComponent("session"))

	d := &daemon{
		logger:    logger,
		log:       log,
		ctrl:      ctrl,
		bt:        bt,
		settings:  st,
		profiles:  profiles,
		repeater:  input.NewRepeater(ctrl, cfg.RepeatDelay(), cfg.RepeatInterval(), logger.WithComponent("repeat")),
		keepAlive: input.NewKeepAlive(ctrl, cfg.KeepAliveInterval(), logger.WithComponent("keepalive")),
		cfg:       cfg,
	}

	current, err := st.CurrentProfile(profile.DefaultName)
	if err != nil {
		log.Warn("read current profile failed", "error", err)
	}
	if !profiles.Exists(current) {
		current = profile.DefaultName
	}
	d.current = current
	return d, nil
}

func appSettings(cfg *config.Config) transport.AppSettings {
	app := transport.DefaultAppSettings()
	if cfg.Bluetooth.Name != "" {
		app.Name = cfg.Bluetooth.Name
	}
	if cfg.Bluetooth.Description != "" {
		app.Description = cfg.Bluetooth.Description
	}
	if cfg.Bluetooth.Provider != "" {
		app.Provider = cfg.Bluetooth.Provider
	}
	return app
}

// start switches to the persisted mode, falling back to the configured one,
// and restores keep-alive.
func (d *daemon) start() {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	name, err := d.settings.ConnectionMode(cfg.Connection.Mode)
	if err != nil {
		d.log.Warn("read connection mode failed", "error", err)
		name = cfg.Connection.Mode
	}
	mode, err := session.ParseMode(name)
	if err != nil {
		d.log.Warn("unknown connection mode, using default", "mode", name, "default", session.DefaultMode)
		mode = session.DefaultMode
	}
	if err := d.ctrl.SwitchTo(mode); err != nil {
		d.log.Warn("initial transport unavailable", "mode", mode, "error", err)
	}

	on, err := d.settings.KeepAlive(cfg.KeepAlive.Enabled)
	if err != nil {
		d.log.Warn("read keep-alive setting failed", "error", err)
	}
	d.keepAlive.SetEnabled(on)
}

// shutdownTimeout bounds how long close waits for the transport to release
// a held key and unregister.
const shutdownTimeout = 2 * time.Second

// close stops everything that talks to the host and waits for the
// transport's teardown, then closes the stores.
func (d *daemon) close() {
	d.repeater.Stop()
	d.keepAlive.SetEnabled(false)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.ctrl.Shutdown(ctx); err != nil {
		d.log.Warn("transport teardown did not finish", "error", err)
	}
	if err := d.settings.Close(); err != nil {
		d.log.Warn("close settings failed", "error", err)
	}
}

// switchMode switches the transport and persists the mode once the switch
// succeeded.
func (d *daemon) switchMode(m session.ConnectionMode) error {
	if err := d.ctrl.SwitchTo(m); err != nil {
		return err
	}
	if err := d.settings.SetConnectionMode(string(m)); err != nil {
		d.log.Warn("persist connection mode failed", "error", err)
	}
	return nil
}

// applyConfig is the config loader's change callback.
func (d *daemon) applyConfig(cfg *config.Config) {
	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	if lvl, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		d.logger.SetLevel(lvl)
	}
	d.keepAlive.SetInterval(cfg.KeepAliveInterval())
	if cfg.KeepAlive.Enabled != old.KeepAlive.Enabled {
		d.setKeepAlive(cfg.KeepAlive.Enabled)
	}
	if cfg.Connection.Mode != old.Connection.Mode {
		mode, err := session.ParseMode(cfg.Connection.Mode)
		if err != nil {
			d.log.Warn("ignoring connection mode from config", "error", err)
		} else if err := d.switchMode(mode); err != nil {
			d.log.Warn("switch from config failed", "mode", mode, "error", err)
		}
	}
	d.log.Info("configuration reloaded")
}

func (d *daemon) setKeepAlive(on bool) {
	d.keepAlive.SetEnabled(on)
	if err := d.settings.SetKeepAlive(on); err != nil {
		d.log.Warn("persist keep-alive failed", "error", err)
	}
}

// profilesChanged is the profile directory watcher's callback.
func (d *daemon) profilesChanged(names []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range names {
		if n == d.current {
			return
		}
	}
	d.log.Info("current profile removed, falling back", "profile", d.current, "fallback", profile.DefaultName)
	d.current = profile.DefaultName
}

func (d *daemon) currentProfile() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *daemon) status() IPCResponse {
	resp := IPCResponse{
		Ready:     d.ctrl.Ready().Get(),
		Mode:      string(d.ctrl.Mode()),
		Profile:   d.currentProfile(),
		KeepAlive: d.keepAlive.Enabled(),
		Elevated:  d.bt.Elevated(),
	}
	if session.ConnectionMode(resp.Mode) == session.ModeBluetooth {
		resp.State = d.bt.State().String()
		if p, ok := d.bt.Peer(); ok {
			resp.Peer = &p
		}
	}
	if ev, ok := d.repeater.Active(); ok {
		resp.Repeating = ev.String()
	}
	return resp
}

// resolveEvent picks the key from a chord, a profile slot or a raw key code,
// in that order.
func (d *daemon) resolveEvent(req IPCRequest) (hid.KeyEvent, error) {
	switch {
	case req.Chord != "":
		return hid.ParseChord(req.Chord)
	case req.Slot != nil:
		p, err := d.profiles.Load(d.currentProfile())
		if err != nil {
			return hid.KeyEvent{}, err
		}
		s, err := p.Slot(*req.Slot)
		if err != nil {
			return hid.KeyEvent{}, err
		}
		if s.IsEmpty {
			return hid.KeyEvent{}, fmt.Errorf("slot %d of profile %s is empty", *req.Slot, p.Name)
		}
		return s.Event(), nil
	case req.KeyCode != nil:
		return hid.KeyEvent{Modifier: req.Modifier, KeyCode: *req.KeyCode}, nil
	}
	return hid.KeyEvent{}, errors.New("a chord, slot or key code is required")
}

func errResponse(err error) IPCResponse {
	return IPCResponse{Error: err.Error(), Unsupported: errors.Is(err, session.ErrUnsupported)}
}

func (d *daemon) handleRequest(req IPCRequest) IPCResponse {
	switch req.Command {
	case cmdStatus:
		return d.status()

	case cmdSwitch:
		mode, err := session.ParseMode(req.Mode)
		if err != nil {
			return errResponse(err)
		}
		if err := d.switchMode(mode); err != nil {
			return errResponse(err)
		}
		return d.status()

	case cmdSend, cmdPress:
		ev, err := d.resolveEvent(req)
		if err != nil {
			return errResponse(err)
		}
		d.ctrl.SendKeyPress(ev.Modifier, ev.KeyCode)
		return d.status()

	case cmdHold:
		ev, err := d.resolveEvent(req)
		if err != nil {
			return errResponse(err)
		}
		d.ctrl.SendKeyPress(ev.Modifier, ev.KeyCode)
		d.repeater.Start(ev)
		return d.status()

	case cmdRelease:
		d.repeater.Stop()
		return d.status()

	case cmdKeepAlive:
		if req.Enabled == nil {
			return IPCResponse{Error: "enabled is required"}
		}
		d.setKeepAlive(*req.Enabled)
		return d.status()

	case cmdStop:
		d.repeater.Stop()
		d.ctrl.Stop()
		return d.status()

	case cmdProfiles:
		names, err := d.profiles.List()
		if err != nil {
			return errResponse(err)
		}
		return IPCResponse{Ready: d.ctrl.Ready().Get(), Profile: d.currentProfile(), Profiles: names}

	case cmdUse:
		if !d.profiles.Exists(req.Profile) {
			return errResponse(fmt.Errorf("%w: %s", profile.ErrNotFound, req.Profile))
		}
		d.mu.Lock()
		d.current = req.Profile
		d.mu.Unlock()
		if err := d.settings.SetCurrentProfile(req.Profile); err != nil {
			d.log.Warn("persist current profile failed", "error", err)
		}
		return d.status()

	case cmdImport:
		if err := d.profiles.Import(req.Data, req.Profile); err != nil {
			return errResponse(err)
		}
		return IPCResponse{Ready: d.ctrl.Ready().Get(), Profile: req.Profile}

	case cmdExport:
		data, err := d.profiles.Export(req.Profile)
		if err != nil {
			return errResponse(err)
		}
		return IPCResponse{Ready: d.ctrl.Ready().Get(), Profile: req.Profile, Data: data}

	case cmdDelete:
		if err := d.profiles.Delete(req.Profile); err != nil {
			return errResponse(err)
		}
		d.mu.Lock()
		if d.current == req.Profile {
			d.current = profile.DefaultName
		}
		d.mu.Unlock()
		return d.status()

	case cmdRename:
		if err := d.profiles.Rename(req.Profile, req.NewName); err != nil {
			return errResponse(err)
		}
		d.mu.Lock()
		renamedCurrent := d.current == req.Profile
		if renamedCurrent {
			d.current = req.NewName
		}
		d.mu.Unlock()
		if renamedCurrent {
			if err := d.settings.SetCurrentProfile(req.NewName); err != nil {
				d.log.Warn("persist current profile failed", "error", err)
			}
		}
		return d.status()

	case cmdStats:
		name := req.Profile
		if name == "" {
			name = d.currentProfile()
		}
		st, err := d.profiles.Stats(name)
		if err != nil {
			return errResponse(err)
		}
		return IPCResponse{Ready: d.ctrl.Ready().Get(), Profile: name, Stats: st}

	case cmdDuplicate:
		if err := d.profiles.Duplicate(req.Profile, req.NewName); err != nil {
			return errResponse(err)
		}
		return IPCResponse{Ready: d.ctrl.Ready().Get(), Profile: req.NewName}

	case cmdMerge:
		p, err := profile.Parse(req.Data)
		if err != nil {
			return errResponse(err)
		}
		if err := d.profiles.Merge(req.Profile, p.Shortcuts); err != nil {
			return errResponse(err)
		}
		return IPCResponse{Ready: d.ctrl.Ready().Get(), Profile: req.Profile}

	case cmdClear:
		if err := d.clearProfiles(); err != nil {
			return errResponse(err)
		}
		return d.status()

	default:
		return IPCResponse{Error: fmt.Sprintf("unknown command: %q", req.Command)}
	}
}

// clearProfiles removes every profile and starts over from the default one.
func (d *daemon) clearProfiles() error {
	if err := d.profiles.Clear(); err != nil {
		return err
	}
	if _, err := d.profiles.InitDefault(); err != nil {
		return fmt.Errorf("create default profile: %w", err)
	}
	d.mu.Lock()
	d.current = profile.DefaultName
	d.mu.Unlock()
	if err := d.settings.SetCurrentProfile(profile.DefaultName); err != nil {
		d.log.Warn("persist current profile failed", "error", err)
	}
	d.log.Info("cleared all profiles")
	return nil
}

func (d *daemon) handleConn(conn net.Conn) {
	defer conn.Close()

	var req IPCRequest
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&req); err != nil {
		resp := IPCResponse{Error: "invalid request: " + err.Error()}
		json.NewEncoder(conn).Encode(resp)
		return
	}

	if req.Command == cmdWatch {
		d.watch(conn)
		return
	}
	resp := d.handleRequest(req)
	json.NewEncoder(conn).Encode(resp)
}

// watch streams a status line for the current readiness and each change
// until the client goes away.
func (d *daemon) watch(conn net.Conn) {
	ch, cancel := d.ctrl.Ready().Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	enc := json.NewEncoder(conn)
	for {
		select {
		case <-gone:
			return
		case ready, ok := <-ch:
			if !ok {
				return
			}
			resp := d.status()
			resp.Ready = ready
			if err := enc.Encode(resp); err != nil {
				return
			}
		}
	}
}

func loggingConfig(cfg *config.Config) *logging.Config {
	lc := logging.DefaultConfig()
	if lvl, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		lc.Level = lvl
	}
	if f, err := logging.ParseFormat(cfg.Logging.Format); err == nil {
		lc.Format = f
	}
	if cfg.Logging.Output != "" {
		lc.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	return lc
}

func runDaemon(configPath string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", loader.Path(), err)
	}
	defer loader.Close()

	logger, err := logging.New(loggingConfig(cfg))
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)
	log := logger.WithComponent("daemon")

	var env transport.Environment
	bz, err := bluez.Open(bluez.Config{
		Adapter:      cfg.Bluetooth.Adapter,
		Discoverable: cfg.Bluetooth.Discoverable,
	}, logger.WithComponent("bluez"))
	if err != nil {
		log.Warn("bluetooth unavailable", "error", err)
		env = bluez.Offline{Err: err}
	} else {
		defer bz.Close()
		env = bz
	}

	d, err := newDaemon(cfg, env, logger)
	if err != nil {
		return err
	}
	// Runs on every exit path so the HID application is unregistered.
	defer d.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d.start()

	loader.OnChange(d.applyConfig)
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload disabled", "error", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				log.Warn("config reload rejected", "error", err)
			}
		}
	}()
	if err := d.profiles.Watch(ctx, d.profilesChanged); err != nil {
		log.Warn("profile directory watch disabled", "error", err)
	}

	sock := cfg.IPC.SocketPath
	os.Remove(sock) // remove stale socket
	ln, err := net.Listen("unix", sock)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sock, err)
	}
	os.Chmod(sock, 0700)
	defer os.Remove(sock)
	defer ln.Close()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		ln.Close()
	}()

	log.Info("listening", "socket", sock, "mode", d.ctrl.Mode())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go d.handleConn(conn)
	}
}

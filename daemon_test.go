package main

import (
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/streampad/internal/bluez"
	"github.com/mil-ad/streampad/internal/config"
	"github.com/mil-ad/streampad/internal/hid"
	"github.com/mil-ad/streampad/internal/logging"
	"github.com/mil-ad/streampad/internal/profile"
	"github.com/mil-ad/streampad/internal/session"
	"github.com/mil-ad/streampad/internal/transport"
)

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Foreground.Enabled = false
	cfg.Profiles.Dir = filepath.Join(root, "profiles")
	cfg.Profiles.KeyFile = filepath.Join(root, "profile.key")
	cfg.Settings.Path = filepath.Join(root, "settings.db")
	cfg.IPC.SocketPath = filepath.Join(root, "streampad.sock")
	return cfg
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(&logging.Config{Level: logging.LevelError, Writer: io.Discard})
	require.NoError(t, err)
	return l
}

func newTestDaemon(t *testing.T, cfg *config.Config) *daemon {
	t.Helper()
	d, err := newDaemon(cfg, bluez.Offline{}, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(d.close)
	return d
}

func intp(n int) *int { return &n }

func TestStartWithoutAdapterStaysIdle(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))
	d.start()

	resp := d.handleRequest(IPCRequest{Command: cmdStatus})
	assert.Empty(t, resp.Error)
	assert.False(t, resp.Ready)
	assert.Empty(t, resp.Mode)
	assert.Equal(t, profile.DefaultName, resp.Profile)
}

func TestSwitchPersistsOnlyOnSuccess(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))
	d.start()

	resp := d.handleRequest(IPCRequest{Command: cmdSwitch, Mode: "Demo"})
	require.Empty(t, resp.Error)
	assert.True(t, resp.Ready)
	assert.Equal(t, "demo", resp.Mode)

	mode, err := d.settings.ConnectionMode("")
	require.NoError(t, err)
	assert.Equal(t, "demo", mode)

	resp = d.handleRequest(IPCRequest{Command: cmdSwitch, Mode: "usb"})
	assert.True(t, resp.Unsupported)
	assert.NotEmpty(t, resp.Error)
	mode, err = d.settings.ConnectionMode("")
	require.NoError(t, err)
	assert.Equal(t, "demo", mode)
	assert.Equal(t, session.ModeDemo, d.ctrl.Mode())

	resp = d.handleRequest(IPCRequest{Command: cmdSwitch, Mode: "bluetooth"})
	assert.True(t, resp.Unsupported)
	assert.Equal(t, session.ModeDemo, d.ctrl.Mode())

	resp = d.handleRequest(IPCRequest{Command: cmdSwitch, Mode: "serial"})
	assert.False(t, resp.Unsupported)
	assert.Contains(t, resp.Error, "unknown connection mode")
}

func TestRestartRestoresMode(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	d, err := newDaemon(cfg, bluez.Offline{}, testLogger(t))
	require.NoError(t, err)
	d.start()
	require.Empty(t, d.handleRequest(IPCRequest{Command: cmdSwitch, Mode: "demo"}).Error)
	require.Empty(t, d.handleRequest(IPCRequest{Command: cmdKeepAlive, Enabled: boolp(true)}).Error)
	d.close()

	d2 := newTestDaemon(t, testConfig(t, root))
	d2.start()
	resp := d2.handleRequest(IPCRequest{Command: cmdStatus})
	assert.Equal(t, "demo", resp.Mode)
	assert.True(t, resp.Ready)
	assert.True(t, resp.KeepAlive)
}

func boolp(b bool) *bool { return &b }

func TestSendAndPress(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))
	require.NoError(t, d.switchMode(session.ModeDemo))

	assert.Empty(t, d.handleRequest(IPCRequest{Command: cmdSend, Chord: "ctrl+c"}).Error)
	assert.Empty(t, d.handleRequest(IPCRequest{Command: cmdSend, KeyCode: uint8p(0x47)}).Error)
	assert.NotEmpty(t, d.handleRequest(IPCRequest{Command: cmdSend, Chord: "ctrl+nope"}).Error)
	assert.NotEmpty(t, d.handleRequest(IPCRequest{Command: cmdSend}).Error)

	// Slot 10 of the default grid is Ctrl+C; row one is empty.
	assert.Empty(t, d.handleRequest(IPCRequest{Command: cmdPress, Slot: intp(10)}).Error)
	assert.Contains(t, d.handleRequest(IPCRequest{Command: cmdPress, Slot: intp(0)}).Error, "empty")
	assert.NotEmpty(t, d.handleRequest(IPCRequest{Command: cmdPress, Slot: intp(99)}).Error)
}

func uint8p(v uint8) *uint8 { return &v }

func TestHoldAndRelease(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))
	require.NoError(t, d.switchMode(session.ModeDemo))

	resp := d.handleRequest(IPCRequest{Command: cmdHold, Chord: "down"})
	require.Empty(t, resp.Error)
	assert.NotEmpty(t, resp.Repeating)

	resp = d.handleRequest(IPCRequest{Command: cmdRelease})
	assert.Empty(t, resp.Repeating)
}

func TestKeepAliveRequiresFlag(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))
	assert.NotEmpty(t, d.handleRequest(IPCRequest{Command: cmdKeepAlive}).Error)

	resp := d.handleRequest(IPCRequest{Command: cmdKeepAlive, Enabled: boolp(true)})
	assert.True(t, resp.KeepAlive)
	resp = d.handleRequest(IPCRequest{Command: cmdKeepAlive, Enabled: boolp(false)})
	assert.False(t, resp.KeepAlive)
	on, err := d.settings.KeepAlive(true)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestStopGoesIdle(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))
	require.NoError(t, d.switchMode(session.ModeDemo))

	resp := d.handleRequest(IPCRequest{Command: cmdStop})
	assert.False(t, resp.Ready)
	assert.Empty(t, resp.Mode)
}

func TestProfileCommands(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))

	resp := d.handleRequest(IPCRequest{Command: cmdProfiles})
	require.Empty(t, resp.Error)
	assert.Equal(t, []string{profile.DefaultName}, resp.Profiles)

	exported := d.handleRequest(IPCRequest{Command: cmdExport, Profile: profile.DefaultName})
	require.Empty(t, exported.Error)
	require.NotEmpty(t, exported.Data)

	resp = d.handleRequest(IPCRequest{Command: cmdImport, Profile: "obs", Data: exported.Data})
	require.Empty(t, resp.Error)

	resp = d.handleRequest(IPCRequest{Command: cmdUse, Profile: "obs"})
	require.Empty(t, resp.Error)
	assert.Equal(t, "obs", resp.Profile)
	name, err := d.settings.CurrentProfile("")
	require.NoError(t, err)
	assert.Equal(t, "obs", name)

	resp = d.handleRequest(IPCRequest{Command: cmdRename, Profile: "obs", NewName: "stream"})
	require.Empty(t, resp.Error)
	assert.Equal(t, "stream", resp.Profile)

	resp = d.handleRequest(IPCRequest{Command: cmdStats})
	require.Empty(t, resp.Error)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, "stream", resp.Stats.Name)
	assert.Equal(t, profile.GridSize, resp.Stats.ShortcutCount)

	resp = d.handleRequest(IPCRequest{Command: cmdDelete, Profile: "stream"})
	require.Empty(t, resp.Error)
	assert.Equal(t, profile.DefaultName, resp.Profile)

	assert.NotEmpty(t, d.handleRequest(IPCRequest{Command: cmdDelete, Profile: profile.DefaultName}).Error)
	assert.NotEmpty(t, d.handleRequest(IPCRequest{Command: cmdUse, Profile: "missing"}).Error)
	assert.NotEmpty(t, d.handleRequest(IPCRequest{Command: cmdImport, Profile: "bad", Data: json.RawMessage(`{"x":1}`)}).Error)
}

func TestDuplicateMergeClear(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))

	resp := d.handleRequest(IPCRequest{Command: cmdDuplicate, Profile: profile.DefaultName, NewName: "copy"})
	require.Empty(t, resp.Error)
	assert.Equal(t, "copy", resp.Profile)
	assert.True(t, d.profiles.Exists("copy"))
	assert.NotEmpty(t, d.handleRequest(IPCRequest{Command: cmdDuplicate, Profile: "missing", NewName: "x"}).Error)

	doc, err := json.Marshal(profile.Profile{Name: "extra", Shortcuts: []profile.Shortcut{
		{Label: "F12", KeyCode: hid.KeyF12, Category: profile.CategoryCustom},
	}})
	require.NoError(t, err)
	resp = d.handleRequest(IPCRequest{Command: cmdMerge, Profile: "copy", Data: doc})
	require.Empty(t, resp.Error)
	p, err := d.profiles.Load("copy")
	require.NoError(t, err)
	require.Len(t, p.Shortcuts, profile.GridSize+1)
	assert.Equal(t, "F12", p.Shortcuts[profile.GridSize].Label)
	assert.NotEmpty(t, d.handleRequest(IPCRequest{Command: cmdMerge, Profile: "copy", Data: json.RawMessage(`{"x":1}`)}).Error)

	require.Empty(t, d.handleRequest(IPCRequest{Command: cmdUse, Profile: "copy"}).Error)
	resp = d.handleRequest(IPCRequest{Command: cmdClear})
	require.Empty(t, resp.Error)
	assert.Equal(t, profile.DefaultName, resp.Profile)
	names, err := d.profiles.List()
	require.NoError(t, err)
	assert.Equal(t, []string{profile.DefaultName}, names)
	name, err := d.settings.CurrentProfile("")
	require.NoError(t, err)
	assert.Equal(t, profile.DefaultName, name)
}

func TestProfilesChangedFallsBack(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))
	d.current = "gone"
	d.profilesChanged([]string{profile.DefaultName, "other"})
	assert.Equal(t, profile.DefaultName, d.currentProfile())

	d.current = "other"
	d.profilesChanged([]string{profile.DefaultName, "other"})
	assert.Equal(t, "other", d.currentProfile())
}

func TestApplyConfigSwitchesMode(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	d := newTestDaemon(t, cfg)
	d.start()

	next := *cfg
	next.Connection.Mode = "demo"
	next.Logging.Level = "debug"
	d.applyConfig(&next)

	assert.Equal(t, session.ModeDemo, d.ctrl.Mode())
	assert.Equal(t, logging.LevelDebug, d.logger.Level())
	mode, err := d.settings.ConnectionMode("")
	require.NoError(t, err)
	assert.Equal(t, "demo", mode)
}

func TestUnknownCommand(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))
	assert.Contains(t, d.handleRequest(IPCRequest{Command: "toggle"}).Error, "unknown command")
}

func TestHandleConn(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))
	require.NoError(t, d.switchMode(session.ModeDemo))

	client, server := net.Pipe()
	go d.handleConn(server)
	defer client.Close()

	require.NoError(t, json.NewEncoder(client).Encode(IPCRequest{Command: cmdStatus}))
	var resp IPCResponse
	require.NoError(t, json.NewDecoder(client).Decode(&resp))
	assert.True(t, resp.Ready)
	assert.Equal(t, "demo", resp.Mode)
}

func TestWatchStreamsReadiness(t *testing.T) {
	d := newTestDaemon(t, testConfig(t, t.TempDir()))

	client, server := net.Pipe()
	go d.handleConn(server)
	defer client.Close()

	require.NoError(t, json.NewEncoder(client).Encode(IPCRequest{Command: cmdWatch}))
	dec := json.NewDecoder(client)

	var first IPCResponse
	require.NoError(t, dec.Decode(&first))
	assert.False(t, first.Ready)

	go d.switchMode(session.ModeDemo)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var next IPCResponse
	require.NoError(t, dec.Decode(&next))
	assert.True(t, next.Ready)
}

var testHost = transport.Peer{Address: "AA:BB:CC:DD:EE:FF", Name: "laptop"}

// hostEnv hands out one adapter whose device registers at once and has a
// host connected.
type hostEnv struct {
	dev *hostDevice
}

func (e *hostEnv) BluetoothAdapter() (transport.Adapter, error) { return e, nil }

func (e *hostEnv) OpenHidDevice(l transport.ProfileListener) error {
	go l.ServiceConnected(e.dev)
	return nil
}

func (e *hostEnv) CloseHidDevice(transport.HidDevice) {}

type hostDevice struct {
	mu          sync.Mutex
	reports     [][]byte
	unregisters int
}

func (d *hostDevice) RegisterApp(_ transport.AppSettings, cb transport.HidCallback) error {
	go func() {
		cb.AppStatusChanged(nil, true)
		cb.ConnectionStateChanged(testHost, transport.PeerConnected)
	}()
	return nil
}

func (d *hostDevice) UnregisterApp() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unregisters++
	return nil
}

func (d *hostDevice) SendReport(_ transport.Peer, _ byte, report []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, append([]byte(nil), report...))
	return nil
}

func (d *hostDevice) counts() (reports [][]byte, unregisters int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.reports...), d.unregisters
}

func TestCloseReleasesKeyAndUnregisters(t *testing.T) {
	dev := &hostDevice{}
	d, err := newDaemon(testConfig(t, t.TempDir()), &hostEnv{dev: dev}, testLogger(t))
	require.NoError(t, err)
	d.start()
	require.Equal(t, session.ModeBluetooth, d.ctrl.Mode())
	require.Eventually(t, d.ctrl.Ready().Get, 2*time.Second, 5*time.Millisecond)

	d.ctrl.SendKeyPress(hid.ModLeftCtrl, hid.KeyC)
	require.Eventually(t, func() bool {
		reports, _ := dev.counts()
		return len(reports) >= 1
	}, 2*time.Second, time.Millisecond)

	d.close()

	reports, unregisters := dev.counts()
	require.Len(t, reports, 2, "close returns only after the release")
	assert.Equal(t, hid.Press(hid.ModLeftCtrl, hid.KeyC), hid.Report(reports[0]))
	assert.True(t, hid.Report(reports[1]).IsRelease())
	assert.Equal(t, 1, unregisters)
	assert.False(t, d.ctrl.Ready().Get())
}

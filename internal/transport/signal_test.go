package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/streampad/internal/hid"
)

func TestSignalSubscribe(t *testing.T) {
	s := NewSignal(false)
	ch, cancel := s.Subscribe()
	defer cancel()

	assert.False(t, <-ch, "initial value")

	s.Set(true)
	assert.True(t, <-ch)

	// Unchanged values are not delivered.
	s.Set(true)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	default:
	}
}

func TestSignalConflates(t *testing.T) {
	s := NewSignal(false)
	ch, cancel := s.Subscribe()
	defer cancel()
	<-ch

	s.Set(true)
	s.Set(false)
	s.Set(true)
	assert.True(t, <-ch)
	assert.Empty(t, ch)
	assert.True(t, s.Get())
}

func TestSignalCancel(t *testing.T) {
	s := NewSignal(true)
	ch, cancel := s.Subscribe()
	<-ch
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	s.Set(false) // no panic on a closed subscriber
	assert.False(t, s.Get())
}

func TestNullBackend(t *testing.T) {
	var seen []hid.KeyEvent
	n := NewNullBackend(nil, func(ev hid.KeyEvent) { seen = append(seen, ev) })

	assert.Equal(t, "null", n.Name())
	assert.True(t, n.Supported(nil))
	assert.True(t, n.Ready().Get())

	n.Start(nil)
	n.SendKeyPress(hid.ModLeftCtrl, hid.KeyV)
	n.Stop(nil)
	assert.True(t, n.Ready().Get())

	require.Len(t, seen, 1)
	assert.Equal(t, hid.KeyEvent{Modifier: hid.ModLeftCtrl, KeyCode: hid.KeyV}, seen[0])
}

func TestUSBBackendDisabled(t *testing.T) {
	u := NewUSBBackend(nil)

	assert.Equal(t, "usb", u.Name())
	assert.False(t, u.Supported(&fakeEnv{adapter: &fakeAdapter{}}))
	assert.False(t, u.Ready().Get())

	u.Start(nil)
	u.SendKeyPress(hid.ModNone, hid.KeyA)
	assert.False(t, u.Ready().Get())
}

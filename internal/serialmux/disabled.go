package serialmux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// ErrDisabled is returned by Query when the camera has no control link.
var ErrDisabled = errors.New("serial control link disabled")

// DisabledSerialMux stands in for the control link of a camera configured
// without one. Commands are counted and dropped. Subscribers never receive a
// line; their channels close on Unsubscribe or Close so consumers exit.
type DisabledSerialMux struct {
	mu      sync.Mutex
	subs    map[string]chan string
	dropped int
	closed  bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: make(map[string]chan string)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
		return id, ch
	}
	d.subs[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subs[id]; ok {
		close(ch)
		delete(d.subs, id)
	}
}

func (d *DisabledSerialMux) drop(commands ...string) {
	d.mu.Lock()
	d.dropped += len(commands)
	d.mu.Unlock()
	for _, c := range commands {
		diagf("no control link, dropped %q", c)
	}
}

// Dropped returns how many commands were discarded.
func (d *DisabledSerialMux) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *DisabledSerialMux) SendCommand(command string) error {
	d.drop(command)
	return nil
}

func (d *DisabledSerialMux) Initialize(commands []string) error {
	d.drop(commands...)
	return nil
}

func (d *DisabledSerialMux) Query(context.Context, string) (string, error) {
	return "", ErrDisabled
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, ch := range d.subs {
		close(ch)
		delete(d.subs, id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).HandleFunc("serial-disabled", "camera serial control link status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "serial disabled, %d commands dropped", d.Dropped())
	})
}

var (
	_ SerialMuxInterface = (*DisabledSerialMux)(nil)
	_ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)
)

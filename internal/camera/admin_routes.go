package camera

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"
)

type statusResponse struct {
	State   string        `json:"state"`
	Session *SessionInfo  `json:"session,omitempty"`
	Frames  int           `json:"frames"`
	Stats   StatsSnapshot `json:"stats"`
}

// AttachAdminRoutes attaches camera debugging endpoints to the given HTTP mux
// served at /debug/.
func (c *Camera) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("camera", "acquisition state and frame statistics", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			State:  c.State().String(),
			Frames: c.Frames(),
			Stats:  c.Stats(),
		}
		if s, ok := c.Session(); ok {
			resp.Session = &s
		}
		writeJSON(w, resp)
	})

	debug.HandleFunc("camera-properties", "camera property values", func(w http.ResponseWriter, r *http.Request) {
		type property struct {
			Descriptor
			Value *Value `json:"value,omitempty"`
		}
		snap := c.registry.Snapshot()
		var out []property
		for _, d := range c.registry.List() {
			p := property{Descriptor: d}
			if v, ok := snap[d.Name]; ok {
				p.Value = &v
			}
			out = append(out, p)
		}
		writeJSON(w, out)
	})

	// POST name=<property>&value=<value> writes a property.
	debug.HandleSilentFunc("camera-set", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := r.FormValue("name")
		if err := c.registry.SetParsed(name, r.FormValue("value")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, "set %s\n", name)
	})

	debug.HandleFunc("camera-frame.pgm", "latest frame as PGM", func(w http.ResponseWriter, r *http.Request) {
		f, ok := c.Latest()
		if !ok {
			http.Error(w, "no frame available", http.StatusNotFound)
			return
		}
		var buf bytes.Buffer
		if err := c.writePGM(&buf, f.Data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/x-portable-graymap")
		w.Header().Set("X-Frame-Seq", fmt.Sprint(f.Seq))
		_, _ = w.Write(buf.Bytes())
	})

	debug.HandleFunc("camera-intervals", "inter-frame interval chart", func(w http.ResponseWriter, r *http.Request) {
		snap := c.Stats()
		x := make([]int, len(snap.Intervals))
		y := make([]opts.LineData, len(snap.Intervals))
		for i, d := range snap.Intervals {
			x[i] = i
			y[i] = opts.LineData{Value: float64(d) / float64(time.Millisecond)}
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: "Frame intervals", Width: "100%", Height: "600px"}),
			charts.WithTitleOpts(opts.Title{
				Title:    "Inter-frame interval (ms)",
				Subtitle: fmt.Sprintf("delivered=%d overwritten=%d fps=%.2f", snap.Delivered, snap.Overwritten, snap.FrameRate),
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		line.SetXAxis(x).AddSeries("interval", y)

		var buf bytes.Buffer
		if err := line.Render(&buf); err != nil {
			http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}

// writePGM encodes a frame as binary PGM using the sensor geometry.
func (c *Camera) writePGM(buf *bytes.Buffer, data []byte) error {
	var dims [3]uint64
	for i, name := range []string{PropSensorWidth, PropSensorHeight, PropSensorBitdepth} {
		v, err := c.registry.Get(name)
		if err != nil {
			return err
		}
		dims[i] = v.Uint()
	}
	width, height, depth := dims[0], dims[1], dims[2]
	bpp := (depth + 7) / 8
	if uint64(len(data)) < width*height*bpp {
		return fmt.Errorf("frame of %d bytes is smaller than %dx%dx%d", len(data), width, height, bpp)
	}
	maxVal := uint64(1)<<min(depth, 16) - 1
	fmt.Fprintf(buf, "P5\n%d %d\n%d\n", width, height, maxVal)
	if bpp == 1 {
		buf.Write(data[:width*height])
		return nil
	}
	// PGM stores 16-bit samples big-endian; frames are little-endian.
	for i := uint64(0); i < width*height; i++ {
		lo, hi := data[i*bpp], data[i*bpp+1]
		buf.WriteByte(hi)
		buf.WriteByte(lo)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

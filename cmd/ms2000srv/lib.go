package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-yaml/yaml"
	"github.com/theckman/yacspin"

	"github.com/amsikking/asi-MS-2000-500-CP/asi"
	"github.com/amsikking/asi-MS-2000-500-CP/generichttp"
	"github.com/amsikking/asi-MS-2000-500-CP/generichttp/ascii"
	"github.com/amsikking/asi-MS-2000-500-CP/generichttp/motion"
	"github.com/amsikking/asi-MS-2000-500-CP/server/middleware/locker"
	"github.com/amsikking/asi-MS-2000-500-CP/util"
)

// Minmax holds a min and max value
type Minmax struct {
	Min float64 `yaml:"Min"`
	Max float64 `yaml:"Max"`
}

// ObjSetup holds the parameters for one controller node
type ObjSetup struct {
	// Addr holds the network or filesystem address of the controller,
	// e.g. 192.168.100.123:2006 for a controller connected to port 6
	// on a digi portserver, or /dev/ttyS4 for an RS232 device on a serial cable
	Addr string `yaml:"Addr"`

	// Endpoint is the final "directory" to put the controller's routes under,
	// ex. Endpoint="/omc/stage" produces routes of /omc/stage/axis/X/pos, etc.
	Endpoint string `yaml:"Endpoint"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial"`

	// Timeout is the reply timeout in seconds, 0 for the default
	Timeout float64 `yaml:"Timeout"`

	// Axes restricts the axis labels probed at startup; empty probes the
	// standard candidates
	Axes []string `yaml:"Axes"`

	// CountsPerMicron overrides the encoder scale, 0 for the factory 10
	CountsPerMicron float64 `yaml:"CountsPerMicron"`

	// Limits holds server-imposed axis limits in encoder counts, enforced
	// at the HTTP layer on top of the controller's own travel limits
	Limits map[string]Minmax `yaml:"Limits"`
}

// Config is a struct that holds the initialization parameters for the
// server and its nodes.  It is to be populated by a yaml unmarshal call.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	Mock bool `yaml:"Mock"`

	// Nodes is the list of controllers to set up
	Nodes []ObjSetup `yaml:"Nodes"`
}

// LoadYaml converts a (path to a) yaml file into a Config struct
func LoadYaml(path string) (Config, error) {
	cfg := Config{}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

func openSpinner(msg string) *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " " + msg,
		SuffixAutoColon: true,
		StopCharacter:   "done",
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		return nil
	}
	spinner.Start()
	return spinner
}

// buildNode constructs the controller for one node and opens it, unless
// the server is in mock mode
func buildNode(node ObjSetup, mock bool) (motion.Controller, error) {
	if mock {
		return asi.NewMock(node.Axes...), nil
	}
	opts := []asi.Option{}
	if node.Timeout != 0 {
		opts = append(opts, asi.WithTimeout(util.SecsToDuration(node.Timeout)))
	}
	if len(node.Axes) != 0 {
		opts = append(opts, asi.WithAxes(node.Axes...))
	}
	if node.CountsPerMicron != 0 {
		opts = append(opts, asi.WithCountsPerMicron(node.CountsPerMicron))
	}
	ctl := asi.New(node.Addr, node.Serial, opts...)
	spinner := openSpinner("opening stage at " + node.Addr)
	err := ctl.Open()
	if spinner != nil {
		spinner.Stop()
	}
	return ctl, err
}

// BuildMux constructs the root chi mux from the config: one submux per
// node with limit and lock middleware, plus an /endpoints route which
// returns the route graph as JSON.
func BuildMux(c Config) chi.Router {
	// make the root handler
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	for _, node := range c.Nodes {
		ctl, err := buildNode(node, c.Mock)
		if err != nil {
			log.Fatal("could not open controller at ", node.Addr, ": ", err)
		}

		limiters := map[string]util.Limiter{}
		for axis, mm := range node.Limits {
			limiters[axis] = util.Limiter{Min: mm.Min, Max: mm.Max}
		}
		limiter := motion.LimitMiddleware{Limits: limiters, Mov: ctl}

		httper := motion.NewHTTPMotionController(ctl)
		if raw, ok := ctl.(ascii.RawCommunicator); ok {
			ascii.InjectRawComm(httper.RT(), raw)
		}
		limiter.Inject(httper)

		// per-axis locks; the stage's axes move independently
		lock := locker.NewAL()
		locker.Inject(httper, lock)

		// prepare the URL, "omc/stage" => "/omc/stage"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		supergraph[hndlS] = httper.RT().Endpoints()

		// bind to the mux
		r := chi.NewRouter()
		r.Use(limiter.Check)
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}

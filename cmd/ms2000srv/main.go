package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "ms2000srv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr: ":8000",
		Nodes: []ObjSetup{
			{
				Addr:     "192.168.100.123:2006",
				Endpoint: "/omc/stage",
				Serial:   false,
			}}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `ms2000srv communicates with ASI MS-2000 stage controllers and exposes an
HTTP interface to them.  This enables a server-client architecture, and
the clients can leverage the excellent HTTP libraries for any programming
language.

Usage:
	ms2000srv <command>

Commands:
	run [path-to-yml]
	help
	mkconf
	conf [path-to-yml]
	version`
	fmt.Println(str)
}

func help() {
	str := `ms2000srv is amenable to configuration via its .yaml file.  For a primer
on YAML, see https://yaml.org/start.html

Without a configuration, the server will serve a single stage at the
default address, which is almost certainly not what you want.

No two endpoints can have the same URL.

URLs may look like any variation between "omc/stage" or "/omc/stage/*",
the leading and trailing slashes, as well as the *, are added by the
server if missing.

Each node speaks the MS-2000 serial dialect, either directly over RS232
(Serial: true, Addr is the device file or COM port) or through a
terminal server such as a digi portserver (Serial: false, Addr is
host:port).

Axes limits the labels probed at startup; leave it empty to probe the
standard X/Y/Z/F/T/R candidates.  Limits are server-side travel limits
in encoder counts, enforced in addition to the controller's own.

Set Mock: true to serve simulated stages, useful for client development
with no hardware on the bench.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf(args []string) {
	c := loadconfig(args)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("ms2000srv version %v\n", Version)
}

// loadconfig resolves the active Config: an explicit path bypasses the
// koanf defaults merge and reads that file alone.
func loadconfig(args []string) Config {
	if len(args) > 0 {
		c, err := LoadYaml(args[0])
		if err != nil {
			log.Fatal(err)
		}
		return c
	}
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func run(args []string) {
	c := loadconfig(args)
	mux := BuildMux(c)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf(args[2:])
		return
	case "run":
		run(args[2:])
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}

package connutil

import (
	"flag"
	"log"
	"time"

	"github.com/qphox/cryoswitch"
	"github.com/qphox/cryoswitch/lib/find"
	"github.com/soypat/cereal"
	"go.uber.org/multierr"
)

type Conn struct {
	SerialPort string
	Addr       string
	TCP        bool
	Timeout    time.Duration
	Verbose    bool

	tty     string
	finderr error
}

// AddFlags is to be called before [flag.Parse].
func (c *Conn) AddFlags() {
	c.tty, c.finderr = find.Find(nil)

	if c.Timeout == 0 {
		c.Timeout = cryoswitch.DefaultTimeout
	}

	flag.StringVar(&c.SerialPort, "port", c.tty, "serial port for the board's USB CDC interface")
	flag.StringVar(&c.Addr, "ip", "", "board IP address; uses ethernet instead of USB")
	flag.BoolVar(&c.TCP, "tcp", false, "use TCP instead of UDP for ethernet commands")
	flag.DurationVar(&c.Timeout, "timeout", c.Timeout, "per-command reply timeout")
	flag.BoolVar(&c.Verbose, "v", c.Verbose, "log every command sent to the board")
}

// Setup is to be called after variables are initialized, i.e. after both [(Conn).AddFlags] and [flag.Parse] are called.
func (c *Conn) Setup(opts []cryoswitch.Option) (sw *cryoswitch.Controller, cleanup func(), err error) {
	nocleanup := func() {}

	log.SetFlags(log.Lmicroseconds)

	var t cryoswitch.Transport
	switch {
	case c.Addr != "" && c.TCP:
		log.Printf("board = tcp://%s", c.Addr)
		tt := cryoswitch.NewTCPTransport(c.Addr)
		tt.Timeout = c.Timeout
		t = tt
	case c.Addr != "":
		log.Printf("board = udp://%s", c.Addr)
		ut := cryoswitch.NewUDPTransport(c.Addr)
		ut.Timeout = c.Timeout
		t = ut
	default:
		if c.finderr != nil && c.SerialPort == "" {
			return nil, nocleanup, c.finderr
		}
		log.Printf("board = %s", c.SerialPort)

		cimpl := cereal.Tarm{}
		port, err := cimpl.OpenPort(c.SerialPort, cereal.Mode{
			BaudRate:    115200,
			ReadTimeout: c.Timeout,
		})
		if err != nil {
			return nil, nocleanup, err
		}
		st := cryoswitch.NewSerialTransport(port)
		st.Timeout = c.Timeout
		t = st
	}

	if c.Verbose {
		opts = append(opts, cryoswitch.WithVerbose())
	}

	sw, err = cryoswitch.NewController(t, opts...)
	if err != nil {
		t.Close()
		return nil, nocleanup, err
	}

	cleanup = func() {
		if err := multierr.Append(sw.Standby(), sw.Close()); err != nil {
			log.Printf("error shutting down: %s", err)
		}
	}
	return sw, cleanup, nil
}

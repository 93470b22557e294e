package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
	flags "github.com/jessevdk/go-flags"
	"github.com/vipnode/framechan/channel"
	"github.com/vipnode/framechan/channel/ws"
)

// Version of the binary, assigned during build.
var Version string = "dev"

// Options contains the flag options
type Options struct {
	Verbose []bool `short:"v" long:"verbose" description:"Show verbose logging."`
	Version bool   `long:"version" description:"Print version and exit."`
	Config  string `long:"config" description:"Path to a TOML config file. (default: framechan/config.toml in the XDG config dirs)"`

	Serve struct {
		Bind        string `long:"bind" description:"Address and port to listen on. (default: 0.0.0.0:8080)"`
		Origin      string `long:"origin" description:"Origin of this server, put on every posted message."`
		AllowOrigin string `long:"allow-origin" description:"Origin allowed to connect, \"*\" for any. (default: *)"`
		Scope       string `long:"scope" description:"Scope of the served channels."`
		Transport   string `long:"transport" description:"Websocket implementation. (gorilla|gobwas)"`
		TLSHost     string `long:"tlshost" description:"Acquire an ACME certificate for this host and serve on :443."`
	} `command:"serve" description:"Serve demo methods over websocket channels."`

	Call struct {
		Args struct {
			URL    string `positional-arg-name:"url" description:"Websocket URL of a framechan server" required:"yes"`
			Method string `positional-arg-name:"method" description:"Remote method to call" required:"yes"`
			Params string `positional-arg-name:"params" description:"JSON params of the call"`
		} `positional-args:"yes"`
		Origin    string        `long:"origin" description:"Origin of this client. (default: http://localhost)"`
		Scope     string        `long:"scope" description:"Scope of the remote channel."`
		Transport string        `long:"transport" description:"Websocket implementation. (gorilla|gobwas)"`
		Timeout   time.Duration `long:"timeout" description:"Give up on the call after this long. (default: 5s)"`
		Callbacks []string      `long:"callback" description:"Pass a callback at this params path; invocations are printed."`
	} `command:"call" description:"Call one method of a framechan server."`
}

const callUsage = `Examples:
* Add some numbers:
  $ framechan call ws://localhost:8080/ add "[1, 2, 3]"

* Count down, printing every tick:
  $ framechan call --callback onTick ws://localhost:8080/ countdown '{"from": 3}'
`

var logLevels = []log.Level{
	log.Warning,
	log.Info,
	log.Debug,
}

func subcommand(ctx context.Context, cmd string, options Options) error {
	conf, err := loadConfig(options.Config)
	if err != nil {
		return ErrExplain{err, "Failed to load the config file. Fix it or point --config somewhere else."}
	}

	switch cmd {
	case "serve":
		return runServe(ctx, serveSettings(options, conf))
	case "call":
		settings, err := callSettings(options, conf)
		if err != nil {
			return err
		}
		return runCall(ctx, os.Stdout, settings)
	}
	return fmt.Errorf("unknown command: %q", cmd)
}

func main() {
	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	parser.SubcommandsOptional = true
	p, err := parser.Parse()
	if err != nil {
		if p == nil {
			fmt.Println(err)
		}
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp && parser.Active != nil {
			// Print additional usage help when run with --help
			switch parser.Active.Name {
			case "call":
				exit(0, callUsage)
			}
		}
		return
	}

	if options.Version {
		fmt.Println(Version)
		os.Exit(0)
	}

	// Figure out the log level
	numVerbose := len(options.Verbose)
	if numVerbose >= len(logLevels) {
		numVerbose = len(logLevels) - 1
	}

	logLevel := logLevels[numVerbose]
	logWriter := os.Stderr

	SetLogger(golog.New(logWriter, logLevel))
	if logLevel == log.Debug {
		// Enable logging from subpackages
		channel.SetLogger(golog.New(logWriter, logLevel))
		ws.SetLogger(golog.New(logWriter, logLevel))
	}

	if parser.Active == nil {
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := parser.Active.Name
	err = subcommand(ctx, cmd, options)
	if err == nil {
		return
	}
	if errors.Is(err, io.EOF) {
		exit(3, "Connection closed.\n")
	}

	exit(2, "%s failed: %s\n", cmd, explain(err))
}

// explain attaches a hint to the errors users are likely to run into.
func explain(err error) error {
	var explained ErrExplain
	if errors.As(err, &explained) {
		return err
	}
	var wireErr *channel.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrExplain{err, `No response in time. Is the server up and serving the scope you asked for? Raise --timeout if the method is slow.`}
	case errors.As(err, &wireErr):
		switch wireErr.Code {
		case channel.ErrCodeMethodNotFound:
			return ErrExplain{err, `The server does not serve this method. Try calling "methods" to list what it does serve.`}
		case channel.ErrCodeTimeout:
			return ErrExplain{err, `The call timed out. Raise --timeout if the method is slow.`}
		}
		return ErrExplain{err, fmt.Sprintf(`The remote method failed with code %q.`, wireErr.Code)}
	case errors.As(err, &netErr):
		return ErrExplain{err, `Disconnected from server unexpectedly. Could be a connectivity issue or the server is down. Try again?`}
	}
	return ErrExplain{err, fmt.Sprintf(`Error type %T is missing an explanation. Please open an issue at https://github.com/vipnode/framechan`, err)}
}

func exit(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

// ErrExplain annotates an error with an explanation.
type ErrExplain struct {
	Cause       error
	Explanation string
}

func (err ErrExplain) Error() string {
	return fmt.Sprintf("%s\n -> %s", err.Cause, err.Explanation)
}

func (err ErrExplain) Unwrap() error {
	return err.Cause
}

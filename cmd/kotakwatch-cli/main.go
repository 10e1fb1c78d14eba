package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
)

func main() {
	var (
		urlF     = flag.String("url", "http://localhost:8000", "URL to service host")
		edgeKeyF = flag.String("edge-key", os.Getenv("EDGE_API_KEY"), "Edge API key")
		tokenF   = flag.String("token", os.Getenv("KOTAKWATCH_TOKEN"), "Bearer token from login")
		verboseF = flag.Bool("verbose", false, "Print request and response details")
		vF       = flag.Bool("v", false, "Print request and response details")
		timeoutF = flag.Int("timeout", 30, "Maximum number of seconds to wait for response")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	c, err := newClient(*urlF, *edgeKeyF, *tokenF, *timeoutF, *verboseF || *vF)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(context.Background(), c, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes one command and prints its JSON result to w.
func run(ctx context.Context, c *client, args []string, w io.Writer) error {
	var (
		out any
		err error
	)
	switch cmd, rest := args[0], args[1:]; cmd {
	case "status":
		err = c.do(ctx, "GET", "/capture/status", nil, nil, &out)
	case "start":
		fs := flag.NewFlagSet("start", flag.ContinueOnError)
		source := fs.String("source", "", "webcam, video or ipcam (default: tenant camera)")
		index := fs.Int("index", 0, "device index")
		path := fs.String("path", "", "file path or stream URL")
		loop := fs.Bool("loop", false, "loop file sources")
		cameraID := fs.String("camera", "", "stored camera id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		q := url.Values{}
		if *source != "" {
			q.Set("source", *source)
			q.Set("index", strconv.Itoa(*index))
			q.Set("path", *path)
			q.Set("loop", strconv.FormatBool(*loop))
		}
		if *cameraID != "" {
			q.Set("camera_id", *cameraID)
		}
		err = c.do(ctx, "POST", "/capture/start", q, nil, &out)
	case "stop":
		err = c.do(ctx, "POST", "/capture/stop", nil, nil, &out)
	case "roi":
		err = c.do(ctx, "GET", "/roi", nil, nil, &out)
	case "roi-set":
		if len(rest) != 4 {
			return fmt.Errorf("usage: roi-set X Y W H")
		}
		vals := make([]float64, 4)
		for i, s := range rest {
			if vals[i], err = strconv.ParseFloat(s, 64); err != nil {
				return fmt.Errorf("invalid number %q", s)
			}
		}
		body := map[string]float64{"x": vals[0], "y": vals[1], "w": vals[2], "h": vals[3]}
		err = c.do(ctx, "POST", "/roi", nil, body, &out)
	case "roi-clear":
		err = c.do(ctx, "DELETE", "/roi", nil, nil, &out)
	case "login":
		if len(rest) != 2 {
			return fmt.Errorf("usage: login USERNAME PASSWORD")
		}
		err = c.do(ctx, "POST", "/auth/login", nil, map[string]string{"username": rest[0], "password": rest[1]}, &out)
	case "alerts":
		q := url.Values{}
		if len(rest) > 0 {
			q.Set("limit", rest[0])
		}
		err = c.do(ctx, "GET", "/tenant/alerts", q, nil, &out)
	case "health":
		err = c.do(ctx, "GET", "/", nil, nil, &out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s is a command line client for the kotakwatch API.
Usage:
    %s [-url URL] [-edge-key KEY] [-token JWT] [-timeout SECONDS] [-verbose|-v] COMMAND [args]

Commands:
    health                      feature flags and backend health
    status                      capture session status
    start [-source S] [-index N] [-path P] [-loop] [-camera ID]
    stop
    roi | roi-set X Y W H | roi-clear
    login USERNAME PASSWORD
    alerts [LIMIT]

Example:
    %s -edge-key secret -token $TOKEN start -source ipcam -path rtsp://10.0.0.5/live
`, os.Args[0], os.Args[0], os.Args[0])
}

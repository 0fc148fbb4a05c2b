// Command distrobakerd runs the DistroBaker synchronization core as a
// long-running daemon: it loads distrobaker.yaml from a configuration
// SCM, then polls the source build system for newly tagged builds and
// syncs them, reloading its configuration on SIGHUP (spec.md §1, §5).
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fedora-infra/distrobaker"
	"github.com/fedora-infra/distrobaker/internal/buildsys"
	"github.com/fedora-infra/distrobaker/internal/config"
	"github.com/fedora-infra/distrobaker/internal/dispatch"
	"golang.org/x/oauth2"
)

func main() {
	var (
		configScmurl = flag.String("config", "", "SCM URL of the distrobaker.yaml configuration repository")
		listen       = flag.String("listen", ":3718", "address to serve the status page on")
		dryRun       = flag.Bool("dry_run", false, "print actions instead of mutating the destination SCM/cache/build system")
		once         = flag.Bool("once", false, "do one polling iteration instead of running forever")
		retry        = flag.Int("retry", 3, "how many times to retry a transient failure before aborting an operation")
		interval     = flag.Duration("interval", 5*time.Minute, "how frequently to poll for newly tagged builds")
		destToken    = flag.String("destination_token", "", "bearer credential for the authenticated destination build-system session")
	)
	flag.Parse()

	if *configScmurl == "" {
		log.Fatal("-config is required")
	}

	ctx, canc := distrobaker.InterruptibleContext()
	defer canc()

	opts := distrobaker.DefaultOptions()
	opts.Retry = *retry
	opts.DryRun = *dryRun

	logger := log.New(os.Stderr, "", log.LstdFlags)
	store := &config.Store{}

	if _, err := config.Load(ctx, logger, store, *configScmurl, opts); err != nil {
		log.Fatalf("initial configuration load failed: %+v", err)
	}

	var auth oauth2.TokenSource
	if *destToken != "" {
		auth = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: *destToken})
	}

	d := &core{
		dispatcher: &dispatch.Dispatcher{
			Logger:  logger,
			Store:   store,
			Options: opts,
		},
		configScmurl: *configScmurl,
		logger:       logger,
		opts:         opts,
	}
	d.dispatcher.Sessions = buildsys.NewCache(store, auth)

	http.HandleFunc("/status", d.serveStatusPage)
	go func() {
		if err := http.ListenAndServe(*listen, nil); err != nil {
			logger.Printf("status page server exited: %v", err)
		}
	}()

	if *once {
		err := d.run(ctx)
		if atErr := distrobaker.RunAtExit(); atErr != nil {
			logger.Printf("cleanup on exit failed: %v", atErr)
		}
		if err != nil {
			log.Fatalf("%+v", err)
		}
		return
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
loop:
	for {
		if err := d.run(ctx); err != nil {
			logger.Printf("run failed: %+v", err)
		}
		select {
		case <-hup:
			logger.Printf("SIGHUP received, reloading configuration")
			if _, err := config.Load(ctx, logger, store, d.configScmurl, d.opts); err != nil {
				logger.Printf("configuration reload failed, keeping previous configuration: %v", err)
			}
		case <-time.After(*interval):
		case <-ctx.Done():
			logger.Printf("shutting down")
			break loop
		}
	}
	if err := distrobaker.RunAtExit(); err != nil {
		logger.Printf("cleanup on exit failed: %v", err)
	}
}

// core holds the daemon's run-loop state: one dispatch pass at a time,
// with the last run's summary kept for the status page (spec.md §5
// "single logical consumer").
type core struct {
	dispatcher *dispatch.Dispatcher

	configScmurl string
	logger       *log.Logger
	opts         distrobaker.Options

	runMu sync.Mutex

	status struct {
		sync.Mutex
		lastRun time.Time
		lastErr error
	}
}

func (d *core) run(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.logger.Printf("polling for newly tagged builds")
	err := d.dispatcher.ProcessComponents(ctx, map[string]struct{}{})

	d.status.Lock()
	d.status.lastRun = time.Now()
	d.status.lastErr = err
	d.status.Unlock()

	return err
}

var statusTmpl = template.Must(template.New("").Parse(`<!DOCTYPE html>
<head><meta charset="utf-8"><title>distrobaker status</title></head>
<body>
<h1>distrobaker</h1>
<p>last run: {{ .LastRun }}</p>
{{ if .LastErr }}<p>last run error: {{ .LastErr }}</p>{{ end }}
</body>
</html>`))

func (d *core) serveStatusPage(w http.ResponseWriter, r *http.Request) {
	d.status.Lock()
	lastRun := d.status.lastRun
	lastErr := d.status.lastErr
	d.status.Unlock()

	var buf bytes.Buffer
	errStr := ""
	if lastErr != nil {
		errStr = fmt.Sprintf("%v", lastErr)
	}
	if err := statusTmpl.Execute(&buf, struct {
		LastRun time.Time
		LastErr string
	}{lastRun, errStr}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	io.Copy(w, &buf)
}

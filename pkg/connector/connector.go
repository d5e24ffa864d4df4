// Package connector implements the server side of the elFinder 2.0 command
// protocol: a single dispatch endpoint that validates incoming commands
// against their declared parameter contracts, resolves opaque node
// identifiers to mounted volumes, and shapes heterogeneous backend results
// into the wire format the widget expects.
//
// One Connector serves many requests; it holds no mutable state beyond the
// volume registry, which is populated at construction and read-only
// afterwards. Each request is processed by a short-lived session.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marmos91/elfinderd/pkg/metrics"
	"github.com/marmos91/elfinderd/pkg/volume"
)

// APIVersion is the protocol version advertised to the client on init.
const APIVersion = "2.0"

// Memory ceiling for parsing multipart bodies; larger uploads spill to disk.
const uploadMemoryLimit = 32 << 20

// allowedParams is the allow-list of request parameters copied from the
// transport request. Anything else is dropped silently.
var allowedParams = []string{
	"cmd", "target", "targets[]", "current", "tree",
	"name", "content", "src", "dst", "cut", "init",
	"type", "width", "height", "upload[]", "dirs[]",
}

// Options carries the policy knobs advertised to the client on init.
type Options struct {
	// UploadMaxSize is the advertised upload limit, e.g. "128M".
	UploadMaxSize string

	// Disabled lists commands the client should not offer.
	Disabled []string

	// ArchiveCreate and ArchiveExtract list the archive mime types the
	// server can create and unpack.
	ArchiveCreate  []string
	ArchiveExtract []string

	// CopyOverwrite tells the client that pasting over an existing name
	// overwrites it.
	CopyOverwrite bool
}

// Connector dispatches protocol commands against a set of mounted volumes.
type Connector struct {
	volumes map[string]volume.Driver
	order   []string
	opts    Options
	log     *zap.Logger
	metrics *metrics.ConnectorMetrics
}

// Result is the outcome of one dispatched request.
//
// Status is the transport status code: protocol-level failures still return
// the default success code with an "error" member in Body. View is non-nil
// only for the file command, which streams content instead of JSON.
type Result struct {
	Status int
	Header http.Header
	Body   map[string]any
	View   *volume.Content
}

// session is the per-request dispatcher state. It is created by Process and
// discarded when the request completes; nothing in it is shared.
type session struct {
	c       *Connector
	ctx     context.Context
	data    map[string]string
	targets []string
	uploads []*multipart.FileHeader
	resp    map[string]any
	view    *volume.Content
}

// New builds a connector over the given volumes. The first volume is the
// default one: its root becomes the working directory when the client opens
// with an empty target. Volume ids must be unique and must not contain the
// hash separator.
func New(opts Options, volumes []volume.Driver, log *zap.Logger, m *metrics.ConnectorMetrics) (*Connector, error) {
	if len(volumes) == 0 {
		return nil, fmt.Errorf("connector: at least one volume is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Connector{
		volumes: make(map[string]volume.Driver, len(volumes)),
		order:   make([]string, 0, len(volumes)),
		opts:    opts,
		log:     log,
		metrics: m,
	}

	for _, vol := range volumes {
		id := vol.ID()
		if id == "" {
			return nil, fmt.Errorf("connector: volume with empty id")
		}
		if strings.Contains(id, HashSeparator) {
			return nil, fmt.Errorf("connector: volume id %q contains the hash separator", id)
		}
		if _, exists := c.volumes[id]; exists {
			return nil, fmt.Errorf("connector: volume %q already registered", id)
		}
		c.volumes[id] = vol
		c.order = append(c.order, id)
	}

	return c, nil
}

// Process runs one protocol request to completion and returns the result.
//
// The flow is: copy allow-listed parameters, look the command up in the
// registry, validate the parameter contract, then invoke the handler. Any
// handler failure is caught here, logged in full, sanitized and placed into
// the response envelope; it never escapes to the transport layer.
func (c *Connector) Process(r *http.Request) *Result {
	s := &session{
		c:    c,
		ctx:  r.Context(),
		data: make(map[string]string),
		resp: make(map[string]any),
	}
	s.extractParams(r)

	res := &Result{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	}

	name, ok := s.data["cmd"]
	if !ok {
		s.resp["error"] = errNoCommand
		res.Body = s.resp
		return res
	}

	cmd, ok := commands[name]
	if !ok {
		s.resp["error"] = errUnknownCommand
		res.Body = s.resp
		return res
	}

	if !s.validate(cmd.params) {
		c.metrics.ObserveCommand(name, "invalid", 0)
		s.resp["error"] = errInvalidArgs
		res.Body = s.resp
		return res
	}

	start := time.Now()
	err := c.runSafely(cmd, s)
	if err != nil {
		// Full detail stays server-side; the client sees the sanitized
		// message only.
		c.log.Error("command failed",
			zap.String("cmd", name),
			zap.String("target", s.data["target"]),
			zap.Error(err))
		s.resp["error"] = c.sanitize(err.Error(), s.data["target"])
		c.metrics.ObserveCommand(name, "error", time.Since(start))
	} else {
		c.metrics.ObserveCommand(name, "ok", time.Since(start))
	}

	if err == nil && s.view != nil {
		res.View = s.view
	}
	res.Body = s.resp
	return res
}

// runSafely invokes a handler, converting a panic into an error so one bad
// request cannot take the server down.
func (c *Connector) runSafely(cmd command, s *session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return cmd.run(s)
}

// ServeHTTP adapts Process to net/http, streaming file content when the
// handler requested a content view and JSON otherwise.
func (c *Connector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := c.Process(r)

	if res.View != nil {
		c.serveContent(w, res.View)
		return
	}

	for key, values := range res.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(res.Status)
	if err := json.NewEncoder(w).Encode(res.Body); err != nil {
		c.log.Warn("failed to write response", zap.Error(err))
	}
}

func (c *Connector) serveContent(w http.ResponseWriter, view *volume.Content) {
	defer view.Reader.Close()

	mime := view.Mime
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", view.Name))
	if view.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(view.Size, 10))
	}

	if _, err := io.Copy(w, view.Reader); err != nil {
		c.log.Warn("failed to stream content", zap.String("name", view.Name), zap.Error(err))
	}
}

// extractParams copies allow-listed parameters from the request into the
// session. POST reads the form body (multipart for uploads), GET reads the
// query string. Array parameters keep their order; the legacy dirs[] alias
// collapses to its first element under the name key.
func (s *session) extractParams(r *http.Request) {
	var source url.Values
	if r.Method == http.MethodPost {
		if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			s.c.log.Debug("form parse failed", zap.Error(err))
		}
		source = r.PostForm
		if r.MultipartForm != nil {
			s.uploads = r.MultipartForm.File["upload[]"]
		}
	} else {
		source = r.URL.Query()
	}

	for _, field := range allowedParams {
		values, ok := source[field]
		if !ok || len(values) == 0 {
			continue
		}
		switch field {
		case "targets[]":
			s.targets = values
		case "dirs[]":
			s.data["name"] = values[0]
		case "upload[]":
			// Binary parts; collected from the multipart form above.
		default:
			s.data[field] = values[0]
		}
	}
}

// sanitize redacts the storage roots of filesystem-backed volumes referenced
// by the failing target before the message crosses the boundary to the
// client.
func (c *Connector) sanitize(msg, target string) string {
	for id, vol := range c.volumes {
		if !strings.HasPrefix(target, id+HashSeparator) {
			continue
		}
		if root := vol.AbsolutePath(""); root != "" {
			msg = strings.ReplaceAll(msg, root, "...")
		}
	}
	return msg
}

// initParams is the static capability advertisement merged into the response
// when the client opens with the init option.
func (c *Connector) initParams() map[string]any {
	disabled := c.opts.Disabled
	if disabled == nil {
		disabled = []string{}
	}

	copyOverwrite := 0
	if c.opts.CopyOverwrite {
		copyOverwrite = 1
	}

	return map[string]any{
		"api":        APIVersion,
		"uplMaxSize": c.opts.UploadMaxSize,
		"options": map[string]any{
			"separator": "/",
			"disabled":  disabled,
			"archivers": map[string]any{
				"create":  c.opts.ArchiveCreate,
				"extract": c.opts.ArchiveExtract,
			},
			"copyOverwrite": copyOverwrite,
		},
	}
}

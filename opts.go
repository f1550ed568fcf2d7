package pg

import (
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	// Packages
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type opt struct {
	url.Values
	tracer *tracer
	bind   *Bind
}

// Opt is a function which applies options for a connection
type Opt func(*opt) error

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	DefaultPort            = "5432"
	DefaultApplicationName = "pgqmini"
	defaultHost            = "localhost"
	defaultDatabase        = "postgres"
)

var (
	defaultScheme = []string{"postgres", "postgresql"}
	sslModes      = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Apply options to the opt struct
func apply(opts ...Opt) (*opt, error) {
	var o opt

	// Set defaults
	o.Values = make(url.Values)
	o.Set("host", defaultHost)
	o.Set("port", DefaultPort)
	o.Set("application_name", DefaultApplicationName)
	o.bind = NewBind()

	// Apply options
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	// Return success
	return &o, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// WithURL sets connection parameters from a PostgreSQL URL. An empty
// value leaves the parameters unchanged.
func WithURL(value string) Opt {
	return func(o *opt) error {
		if value == "" {
			return nil
		}
		url, err := parseUrl(value)
		if err != nil {
			return err
		}
		o.Set("host", url.Hostname())
		o.Set("port", url.Port())
		o.Set("dbname", strings.TrimPrefix(url.Path, "/"))
		if user := url.User.Username(); user != "" {
			o.Set("user", user)
		}
		if password, ok := url.User.Password(); ok {
			o.Set("password", password)
		}
		for key, values := range url.Query() {
			for _, v := range values {
				o.Add(key, v)
			}
		}
		return nil
	}
}

// WithCredentials sets the user and password. If the database name is not
// set, then the user name is used as the database name.
func WithCredentials(user, password string) Opt {
	return func(o *opt) error {
		if user != "" {
			o.Set("user", user)
		}
		if password != "" {
			o.Set("password", password)
		}
		if !o.Has("dbname") && user != "" {
			o.Set("dbname", user)
		}
		return nil
	}
}

// WithDatabase sets the database name for the connection.
func WithDatabase(name string) Opt {
	return func(o *opt) error {
		if name == "" {
			o.Del("dbname")
		} else {
			o.Set("dbname", name)
		}
		return nil
	}
}

// WithHostPort sets the hostname and port for the connection. Zero values
// keep the current setting.
func WithHostPort(host string, port uint16) Opt {
	return func(o *opt) error {
		if host != "" {
			o.Set("host", host)
		}
		if port != 0 {
			o.Set("port", strconv.FormatUint(uint64(port), 10))
		}
		return nil
	}
}

// WithAddr sets the address as host or host:port
func WithAddr(addr string) Opt {
	return func(o *opt) error {
		if !strings.Contains(addr, ":") {
			return WithHostPort(addr, 0)(o)
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return ErrBadParameter.With(err)
		}
		portn, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return ErrBadParameter.Withf("invalid port %q", port)
		}
		return WithHostPort(host, uint16(portn))(o)
	}
}

// WithSSLMode sets the PostgreSQL SSL mode. Valid values are "disable", "allow",
// "prefer", "require", "verify-ca", "verify-full".
func WithSSLMode(mode string) Opt {
	return func(o *opt) error {
		if mode == "" {
			return nil
		} else if !slices.Contains(sslModes, mode) {
			return ErrBadParameter.Withf("invalid sslmode %q", mode)
		}
		o.Set("sslmode", mode)
		return nil
	}
}

// WithApplicationName sets the application name, which appears in
// pg_stat_activity.
func WithApplicationName(name string) Opt {
	return func(o *opt) error {
		if name != "" {
			o.Set("application_name", name)
		}
		return nil
	}
}

// WithConnectTimeout sets the maximum time to wait when connecting. The
// value is rounded up to whole seconds.
func WithConnectTimeout(d time.Duration) Opt {
	return func(o *opt) error {
		if d < 0 {
			return ErrBadParameter.With("negative connect timeout")
		} else if d == 0 {
			o.Del("connect_timeout")
		} else {
			secs := (d + time.Second - 1) / time.Second
			o.Set("connect_timeout", strconv.FormatInt(int64(secs), 10))
		}
		return nil
	}
}

// WithTrace sets a function which is called for every statement executed
func WithTrace(fn TraceFn) Opt {
	return func(o *opt) error {
		if fn != nil {
			o.tracer = NewTracer(fn)
		}
		return nil
	}
}

// WithTracer sets the OTEL tracer, which emits a span per statement
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opt) error {
		if tracer != nil {
			o.tracer = NewOTELTracer(tracer)
		}
		return nil
	}
}

// WithBind sets a bind variable for the connection.
func WithBind(k string, v any) Opt {
	return func(o *opt) error {
		if o.bind.Set(k, v) == "" {
			return ErrBadParameter.With("empty bind key")
		}
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (o *opt) encode(skip ...string) []string {
	keys := make([]string, 0, len(o.Values))
	for key := range o.Values {
		if !slices.Contains(skip, key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if value := o.Get(key); value != "" {
			parts = append(parts, key+"="+quoteValue(value))
		}
	}
	return parts
}

// Encode the options as a keyword/value connection string
func (o *opt) Encode() string {
	return strings.Join(o.encode(), " ")
}

// quoteValue quotes a connection string value when it is empty or contains
// spaces, quotes or backslashes
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Parse and normalize the URL
func parseUrl(value string) (*url.URL, error) {
	url, err := url.Parse(value)
	if err != nil {
		return nil, ErrBadParameter.With(err)
	}

	// Check scheme
	if url.Scheme == "" {
		url.Scheme = defaultScheme[0]
	} else if !slices.Contains(defaultScheme, url.Scheme) {
		return nil, ErrBadParameter.With("invalid database scheme")
	}

	// Normalize host:port
	if url.Port() == "" {
		url.Host = net.JoinHostPort(url.Host, DefaultPort)
	}
	host, port, err := net.SplitHostPort(url.Host)
	if err != nil {
		return nil, ErrBadParameter.With("invalid database host format")
	}
	if port == "" {
		port = DefaultPort
	}
	if host == "" {
		host = defaultHost
	}
	url.Host = net.JoinHostPort(host, port)

	// The user name is the default database name
	if url.User != nil {
		if user := url.User.Username(); user != "" && url.Path == "" {
			url.Path = "/" + user
		}
	}
	if url.Path == "" || url.Path == "/" {
		url.Path = "/" + defaultDatabase
	}

	return url, nil
}

// fields returns the connection parameters without the password, for tracing
func (o *opt) fields() map[string]string {
	result := make(map[string]string, len(o.Values))
	for _, part := range o.encode("password") {
		kv := strings.SplitN(part, "=", 2)
		result[kv[0]] = kv[1]
	}
	return result
}

// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
)

const (
	// DefaultRemote is used when neither Config.Remote nor SPARK_REMOTE is set.
	DefaultRemote = "sc://localhost:15002"
	// RemoteEnv names the environment variable holding the default remote.
	RemoteEnv = "SPARK_REMOTE"

	defaultPort = "15002"
)

// Config configures a session created with [ConnectWithConfig].
type Config struct {
	// Remote is a Spark Connect URL, e.g. sc://host:15002/;token=abc.
	Remote string
	// UserContext identifies the caller. Fields left empty are filled from
	// the user_id and user_name parameters of Remote.
	UserContext *UserContext
	// Logger receives session diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Hook is called around every ExecutePlan call.
	Hook ExecuteHook
	// Allocator is used to decode results. Defaults to memory.DefaultAllocator.
	Allocator memory.Allocator
	// TLSConfig overrides the TLS settings used when use_ssl is set.
	TLSConfig *tls.Config
	// Compression enables gzip compression of requests.
	Compression bool
	// ConnectTimeout, if positive, makes session creation wait up to this
	// long for the channel to become ready. Otherwise the channel connects
	// lazily on the first call.
	ConnectTimeout time.Duration
	// DialOptions are appended to the options used to create the channel.
	DialOptions []grpc.DialOption
}

// DefaultConfig returns a Config pointing at $SPARK_REMOTE, or at
// DefaultRemote when the variable is unset.
func DefaultConfig() Config {
	remote := os.Getenv(RemoteEnv)
	if remote == "" {
		remote = DefaultRemote
	}
	return Config{Remote: remote}
}

// Remote is a parsed Spark Connect connection string.
type Remote struct {
	Host      string
	Port      string
	Token     string
	UseSSL    bool
	UserID    string
	UserName  string
	UserAgent string
	SessionID string
	// Headers holds unrecognized parameters, sent as gRPC metadata.
	Headers map[string]string
}

// Address returns host:port.
func (r Remote) Address() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// ParseRemote parses a connection string of the form
// sc://host[:port][/;key=value;key=value...].
func ParseRemote(s string) (*Remote, error) {
	if !strings.HasPrefix(s, "sc://") {
		return nil, fmt.Errorf("connection string %q must start with sc://", s)
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("connection string %q has no host", s)
	}
	r := &Remote{Host: u.Hostname(), Port: u.Port()}
	if r.Port == "" {
		r.Port = defaultPort
	}
	if _, err := strconv.ParseUint(r.Port, 10, 16); err != nil {
		return nil, fmt.Errorf("invalid port %q in connection string", r.Port)
	}

	params := strings.TrimPrefix(u.Path, "/")
	if params != "" && !strings.HasPrefix(params, ";") {
		return nil, fmt.Errorf("connection string path must be empty or start with ';', got %q", params)
	}
	for _, kv := range strings.Split(params, ";") {
		if kv == "" {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("connection string parameter %q is not key=value", kv)
		}
		switch key {
		case "token":
			r.Token = value
			r.UseSSL = true
		case "use_ssl":
			v, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("invalid use_ssl value %q: %w", value, err)
			}
			r.UseSSL = r.UseSSL || v
		case "user_id":
			r.UserID = value
		case "user_name":
			r.UserName = value
		case "user_agent":
			r.UserAgent = value
		case "session_id":
			r.SessionID = value
		default:
			if r.Headers == nil {
				r.Headers = make(map[string]string)
			}
			r.Headers[strings.ToLower(key)] = value
		}
	}
	return r, nil
}

// Package axon is the HTTP surface a miner exposes to validators.
// Every attached route verifies epistula signatures, applies the
// blacklist policy and tags the request with a priority before the
// forward handler runs.
package axon

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/common/face"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/epistula"
	"github.com/grigorimaxim422/atom/metagraph"
	"github.com/grigorimaxim422/atom/monitor"
	"github.com/grigorimaxim422/atom/version"
	"github.com/pkg/errors"
)

// protocolHTTP is the axon protocol tag announced on chain.
const protocolHTTP = 4

// Registry answers who a verified sender is. *metagraph.Metagraph
// satisfies it.
type Registry interface {
	ByHotkey(ss58 string) (metagraph.Neuron, bool)
	PermitForUID(uid common.UID) bool
}

// Request is one verified inbound call.
type Request struct {
	Sender     string
	Registered bool
	UID        common.UID
	Stake      uint64
	Permit     bool
	Priority   float64
	Body       []byte
	HTTP       *http.Request
}

// Forward handles a request and returns the response body.
type Forward func(ctx context.Context, req *Request) ([]byte, error)

// Blacklist rejects a request with a reason. It runs after the default
// policy accepted the sender.
type Blacklist func(req *Request) (bool, string)

// Priority orders requests for logging and queue decisions. The
// default is the sender's stake.
type Priority func(req *Request) float64

// Verify replaces the epistula check for one route. It returns the
// sender identity the handler should trust.
type Verify func(r *http.Request, body []byte) (string, error)

// Route binds a path to its handler set.
type Route struct {
	Path      string
	Forward   Forward
	Blacklist Blacklist
	Priority  Priority
	Verify    Verify
}

// Axon serves attached routes over plain HTTP.
type Axon struct {
	cfg      config.Axon
	policy   config.Miner
	hotkey   string
	verifier *epistula.Verifier
	registry Registry

	mux      *http.ServeMux
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	paths    []string
	lastInfo *common.AxonInfo

	wg sync.WaitGroup
}

func New(cfg config.Axon, policy config.Miner, epi config.Epistula, hotkey string, registry Registry) *Axon {
	return &Axon{
		cfg:      cfg,
		policy:   policy,
		hotkey:   hotkey,
		verifier: epistula.NewVerifier(epi.AllowedDeltaMS),
		registry: registry,
		mux:      http.NewServeMux(),
	}
}

// Attach registers a route. Must happen before Start.
func (self *Axon) Attach(route Route) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}
		self.serve(w, r, route, epistula.SignedBy(r.Context()), body)
	})

	var handler http.Handler
	if route.Verify != nil {
		handler = self.customVerify(route, inner)
	} else {
		handler = self.epistulaVerify(inner)
	}
	self.mux.Handle(route.Path, handler)
	self.paths = append(self.paths, route.Path)
}

// epistulaVerify checks the request signature and that it was signed
// for this axon's hotkey.
func (self *Axon) epistulaVerify(next http.Handler) http.Handler {
	signedFor := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := self.verifier.VerifySignedFor(r.Header, self.hotkey); err != nil {
			monitor.LogEvent("axon", "bad_receiver")
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
	return epistula.Middleware(self.verifier, self.cfg.MaxBodyBytes, signedFor)
}

func (self *Axon) customVerify(route Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, self.cfg.MaxBodyBytes+1))
		r.Body.Close()
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}
		if int64(len(body)) > self.cfg.MaxBodyBytes {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		sender, err := route.Verify(r, body)
		if err != nil {
			monitor.LogEvent("axon", "verify_reject")
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		self.serve(w, r, route, sender, body)
	})
}

func (self *Axon) serve(w http.ResponseWriter, r *http.Request, route Route, sender string, body []byte) {
	start := time.Now()
	req := &Request{Sender: sender, Body: body, HTTP: r}
	if n, ok := self.registry.ByHotkey(sender); ok {
		req.Registered = true
		req.UID = n.UID
		req.Stake = n.Stake
		req.Permit = self.registry.PermitForUID(n.UID)
	}

	if reject, reason := self.blacklisted(route, req); reject {
		monitor.LogEvent("axon", "blacklist")
		log.Debug("axon rejected %s on %s: %s", sender, route.Path, reason)
		http.Error(w, reason, http.StatusForbidden)
		return
	}

	if route.Priority != nil {
		req.Priority = route.Priority(req)
	} else {
		req.Priority = float64(req.Stake)
	}

	out, err := route.Forward(r.Context(), req)
	if err != nil {
		monitor.LogEvent("axon", "forward_error")
		log.Error("axon forward %s: %v", route.Path, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
	monitor.LogTime("axon", strings.TrimPrefix(route.Path, "/"), start)
}

// blacklisted applies the default policy, then the route's own hook.
func (self *Axon) blacklisted(route Route, req *Request) (bool, string) {
	if !req.Registered {
		if !self.policy.AllowNonRegistered {
			return true, "hotkey not registered"
		}
	} else {
		if self.policy.ForceValidatorPermit && !req.Permit {
			return true, "validator permit required"
		}
		if min := uint64(self.policy.BlacklistMinStake * common.RaoPerTao); req.Stake < min {
			return true, "stake below minimum"
		}
	}
	if route.Blacklist != nil {
		return route.Blacklist(req)
	}
	return false, ""
}

// Start binds the listener and serves until Stop.
func (self *Axon) Start() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.server != nil {
		return errors.New("axon already started")
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(self.cfg.Host, strconv.Itoa(self.cfg.Port)))
	if err != nil {
		return errors.Wrap(err, "axon listen")
	}
	server := &http.Server{Handler: self.mux, ReadHeaderTimeout: 10 * time.Second}
	self.listener = ln
	self.server = server
	self.wg.Add(1)
	go func() {
		defer self.wg.Done()
		if err := server.Serve(ln); err != http.ErrServerClosed {
			log.Error("axon serve: %v", err)
		}
	}()
	log.Info("axon listening on %s, routes %v", ln.Addr(), self.paths)
	return nil
}

// Stop drains in-flight requests, then closes the listener.
func (self *Axon) Stop() {
	self.mu.Lock()
	server := self.server
	self.server = nil
	self.listener = nil
	self.mu.Unlock()
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("axon shutdown: %v", err)
	}
	self.wg.Wait()
}

// Addr is the bound listen address, useful when the port was 0.
func (self *Axon) Addr() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.listener == nil {
		return ""
	}
	return self.listener.Addr().String()
}

// Info is the endpoint as it should appear on chain.
func (self *Axon) Info() common.AxonInfo {
	ip := self.cfg.ExternalIP
	if ip == "" {
		ip = self.cfg.Host
	}
	ipType := uint8(4)
	if strings.Contains(ip, ":") {
		ipType = 6
	}
	return common.AxonInfo{
		Version:  uint32(version.Spec()),
		IP:       ip,
		Port:     self.externalPort(),
		IPType:   ipType,
		Protocol: protocolHTTP,
	}
}

// externalPort prefers the configured override, then the port actually
// bound, which differs from the config when Port is 0.
func (self *Axon) externalPort() uint16 {
	if self.cfg.ExternalPort != 0 {
		return uint16(self.cfg.ExternalPort)
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.listener != nil {
		if addr, ok := self.listener.Addr().(*net.TCPAddr); ok {
			return uint16(addr.Port)
		}
	}
	return uint16(self.cfg.Port)
}

// Announce publishes the endpoint on chain when it changed since the
// last call.
func (self *Axon) Announce(ctx context.Context, writer face.ChainWriter, netuid common.NetUID) error {
	info := self.Info()
	self.mu.Lock()
	same := self.lastInfo != nil && *self.lastInfo == info
	self.mu.Unlock()
	if same {
		return nil
	}
	hash, err := writer.ServeAxon(ctx, netuid, &info)
	if err != nil {
		return errors.Wrap(err, "serve axon")
	}
	self.mu.Lock()
	self.lastInfo = &info
	self.mu.Unlock()
	monitor.LogEvent("axon", "serve_axon")
	log.Info("axon announced %s (tx %s)", info.Addr(), hash)
	return nil
}
